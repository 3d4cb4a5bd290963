package refine

import (
	"github.com/dataprep-studio/annotation-engine/internal/matcher"
)

// DefaultConfidenceThreshold applies when a refined pattern record carries no
// explicit threshold.
const DefaultConfidenceThreshold = 0.7

// Refined augments a persisted pattern with the feedback the external store
// has accumulated for it: exact matched texts the user rejected, and the
// minimum confidence a match must reach to surface.
type Refined struct {
	PatternID           string   `json:"patternId"`
	ExcludedExamples    []string `json:"excludedExamples"`
	ConfidenceThreshold float64  `json:"confidenceThreshold"`
}

// Excludes reports whether text received negative feedback. Exclusion is by
// exact string equality, not offsets: rejected text is suppressed everywhere
// it recurs in a document.
func (r *Refined) Excludes(text string) bool {
	for _, ex := range r.ExcludedExamples {
		if ex == text {
			return true
		}
	}
	return false
}

// Apply filters matches through the refinement data keyed by pattern id.
// Matches for patterns without refinement data pass through unfiltered; this
// covers brand-new unsaved patterns, which cannot have feedback yet.
func Apply(matches []matcher.Match, refined map[string]*Refined) []matcher.Match {
	if len(refined) == 0 {
		return matches
	}
	out := make([]matcher.Match, 0, len(matches))
	for _, m := range matches {
		r, ok := refined[m.PatternID]
		if !ok || r == nil {
			out = append(out, m)
			continue
		}
		if r.Excludes(m.Text) {
			continue
		}
		threshold := r.ConfidenceThreshold
		if threshold <= 0 {
			threshold = DefaultConfidenceThreshold
		}
		if m.Confidence < threshold {
			continue
		}
		out = append(out, m)
	}
	return out
}

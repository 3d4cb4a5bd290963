package refine

import (
	"testing"

	"github.com/dataprep-studio/annotation-engine/internal/matcher"
)

func sample() []matcher.Match {
	return []matcher.Match{
		{Start: 0, End: 12, Text: "555-123-4567", PatternID: "42", Confidence: matcher.ConfidenceRegex},
		{Start: 20, End: 32, Text: "555-999-0000", PatternID: "42", Confidence: matcher.ConfidenceLiteral},
		{Start: 40, End: 52, Text: "555-123-4567", PatternID: "42", Confidence: matcher.ConfidenceRegex},
		{Start: 60, End: 64, Text: "利lo", PatternID: "7", Confidence: 0.5},
	}
}

// TestApply tests refinement filtering of matched spans
func TestApply(t *testing.T) {
	t.Run("NoRefinementDataPassesThrough", func(t *testing.T) {
		in := sample()
		out := Apply(in, nil)
		if len(out) != len(in) {
			t.Fatalf("Expected passthrough, got %d of %d matches", len(out), len(in))
		}
	})

	t.Run("ExclusionSuppressesEveryOccurrence", func(t *testing.T) {
		refined := map[string]*Refined{
			"42": {PatternID: "42", ExcludedExamples: []string{"555-123-4567"}},
		}
		out := Apply(sample(), refined)
		for _, m := range out {
			if m.PatternID == "42" && m.Text == "555-123-4567" {
				t.Errorf("Excluded text survived at [%d,%d)", m.Start, m.End)
			}
		}
		// The non-excluded match for the same pattern stays
		found := false
		for _, m := range out {
			if m.Text == "555-999-0000" {
				found = true
			}
		}
		if !found {
			t.Error("Non-excluded match was dropped")
		}
	})

	t.Run("ExclusionIsExactMatch", func(t *testing.T) {
		refined := map[string]*Refined{
			"42": {PatternID: "42", ExcludedExamples: []string{"555-123"}},
		}
		out := Apply(sample(), refined)
		if len(out) != len(sample()) {
			t.Error("Substring of an excluded text must not be suppressed")
		}
	})

	t.Run("DefaultThreshold", func(t *testing.T) {
		// Threshold zero means unset: the default of 0.7 applies
		refined := map[string]*Refined{
			"7": {PatternID: "7", ConfidenceThreshold: 0},
		}
		out := Apply(sample(), refined)
		for _, m := range out {
			if m.PatternID == "7" {
				t.Errorf("Match below default threshold survived: confidence %f", m.Confidence)
			}
		}
	})

	t.Run("ExplicitThreshold", func(t *testing.T) {
		refined := map[string]*Refined{
			"42": {PatternID: "42", ConfidenceThreshold: 0.96},
		}
		out := Apply(sample(), refined)
		for _, m := range out {
			if m.PatternID == "42" && m.Confidence < 0.96 {
				t.Errorf("Match below explicit threshold survived: %f", m.Confidence)
			}
		}
		// The full-confidence literal match survives
		found := false
		for _, m := range out {
			if m.Confidence == matcher.ConfidenceLiteral {
				found = true
			}
		}
		if !found {
			t.Error("Match above threshold was dropped")
		}
	})

	t.Run("NilRecordPassesThrough", func(t *testing.T) {
		refined := map[string]*Refined{"42": nil}
		out := Apply(sample(), refined)
		if len(out) != len(sample()) {
			t.Error("Nil refinement record must pass matches through")
		}
	})

	t.Run("RefinementOnlyRemoves", func(t *testing.T) {
		refined := map[string]*Refined{
			"42": {PatternID: "42", ExcludedExamples: []string{"555-123-4567"}, ConfidenceThreshold: 0.9},
			"7":  {PatternID: "7"},
		}
		in := sample()
		out := Apply(in, refined)
		if len(out) > len(in) {
			t.Fatalf("Refinement added matches: %d > %d", len(out), len(in))
		}
		for _, m := range out {
			present := false
			for _, orig := range in {
				if orig == m {
					present = true
					break
				}
			}
			if !present {
				t.Errorf("Output match %+v not present in input", m)
			}
		}
	})
}

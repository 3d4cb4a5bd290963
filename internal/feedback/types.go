package feedback

import (
	"context"

	"github.com/dataprep-studio/annotation-engine/internal/refine"
)

// Feedback types accepted by the store.
const (
	TypePositive = "positive"
	TypeNegative = "negative"
)

// Record is one piece of user feedback on a highlighted match.
type Record struct {
	PatternID          string  `json:"patternId" db:"pattern_id"`
	FeedbackType       string  `json:"feedbackType" db:"feedback_type"`
	Context            string  `json:"context" db:"context"`
	MatchedText        string  `json:"matchedText" db:"matched_text"`
	OriginalConfidence float64 `json:"originalConfidence" db:"original_confidence"`
	DataSourceID       string  `json:"dataSourceId" db:"data_source_id"`
}

// Valid reports whether the record is well-formed enough to persist.
func (r *Record) Valid() bool {
	if r.PatternID == "" || r.MatchedText == "" {
		return false
	}
	return r.FeedbackType == TypePositive || r.FeedbackType == TypeNegative
}

// Submitter is the boundary the session controller talks to. It is satisfied
// by both the HTTP client (remote store) and the Postgres store (local).
type Submitter interface {
	Submit(ctx context.Context, record *Record) error
	FetchRefined(ctx context.Context) (map[string]*refine.Refined, error)
}

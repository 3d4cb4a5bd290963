package matcher

// Source identifies which matching pass produced a span.
type Source string

const (
	SourceRegex     Source = "regex"
	SourceLiteral   Source = "literal"
	SourceLiteralCI Source = "literal_ci"
	SourceML        Source = "ml"
)

// Confidence levels by source. ML confidences are supplied by the detector
// and passed through untouched.
const (
	ConfidenceLiteral   = 1.0
	ConfidenceRegex     = 0.95
	ConfidenceLiteralCI = 0.9
)

// Match is a single detected span. Start and End are half-open byte offsets
// into the document text; Text is exactly document[Start:End].
type Match struct {
	Start        int     `json:"startIndex"`
	End          int     `json:"endIndex"`
	Text         string  `json:"value"`
	PatternID    string  `json:"patternId"`
	PatternLabel string  `json:"patternLabel"`
	Confidence   float64 `json:"confidence"`
	Source       Source  `json:"source"`
}

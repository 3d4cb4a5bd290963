package matcher

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dataprep-studio/annotation-engine/internal/pattern"
	"go.uber.org/zap"
)

// Matcher scans document text against a set of pattern definitions. For each
// pattern the passes run in fixed precedence: the primary learned rule, then
// every rule variant, then exact literal examples, then case-insensitive
// literal examples. Regex comes first so the learned shape can catch values
// the user never tagged; the literal passes guarantee every tagged example is
// always highlighted even when the learned rule generalizes imperfectly.
type Matcher struct {
	logger *zap.Logger
}

// New creates a matcher.
func New(logger *zap.Logger) *Matcher {
	return &Matcher{logger: logger}
}

// FindMatches returns every non-duplicate span across all patterns. Duplicate
// suppression is per pattern and per (start, end); spans from different
// patterns are never reconciled against each other.
func (m *Matcher) FindMatches(text string, patterns []*pattern.Definition) []Match {
	var out []Match
	for _, p := range patterns {
		out = append(out, m.matchPattern(text, p)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (m *Matcher) matchPattern(text string, p *pattern.Definition) []Match {
	var spans []Match
	seen := make(map[[2]int]bool)

	add := func(start, end int, confidence float64, source Source) bool {
		key := [2]int{start, end}
		if seen[key] {
			return false
		}
		seen[key] = true
		spans = append(spans, Match{
			Start:        start,
			End:          end,
			Text:         text[start:end],
			PatternID:    p.ID,
			PatternLabel: p.Label,
			Confidence:   confidence,
			Source:       source,
		})
		return true
	}

	// Pass 1: primary rule, then every rule variant. A rule that fails to
	// compile is skipped; it must never abort the whole pass.
	rules := p.RegexPatterns
	if p.Regex != "" && (len(rules) == 0 || rules[0] != p.Regex) {
		rules = append([]string{p.Regex}, rules...)
	}
	for _, rule := range rules {
		if rule == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + rule)
		if err != nil {
			m.logger.Warn("Skipping invalid pattern rule",
				zap.String("pattern_id", p.ID),
				zap.String("rule", rule),
				zap.Error(err))
			continue
		}
		m.scanRegex(text, re, func(start, end int) {
			add(start, end, ConfidenceRegex, SourceRegex)
		})
	}

	// Pass 2: exact literal occurrences of every example.
	for _, example := range p.Examples {
		if strings.TrimSpace(example) == "" {
			continue
		}
		for pos := 0; ; {
			idx := strings.Index(text[pos:], example)
			if idx < 0 {
				break
			}
			start := pos + idx
			add(start, start+len(example), ConfidenceLiteral, SourceLiteral)
			pos = start + len(example)
		}
	}

	// Pass 3: case-insensitive literal occurrences, for examples that carry
	// case variation. Matching runs over the original text via a quoted (?i)
	// rule so offsets stay valid even when case folding changes byte length.
	// Hits equal to the literal example were already taken by the exact pass.
	for _, example := range p.Examples {
		if strings.TrimSpace(example) == "" {
			continue
		}
		if example == strings.ToLower(example) {
			continue
		}
		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(example))
		m.scanRegex(text, re, func(start, end int) {
			add(start, end, ConfidenceLiteralCI, SourceLiteralCI)
		})
	}

	return spans
}

// scanRegex reports every non-overlapping match of re in text, advancing by
// one position on a zero-length match so a pathological rule cannot stall the
// scan.
func (m *Matcher) scanRegex(text string, re *regexp.Regexp, emit func(start, end int)) {
	pos := 0
	for pos <= len(text) {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			return
		}
		start, end := pos+loc[0], pos+loc[1]
		if start == end {
			pos = start + 1
			continue
		}
		emit(start, end)
		pos = end
	}
}

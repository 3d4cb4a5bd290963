package learner

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Learner derives matching rules from the literal examples tagged by a user.
// Learning is never incremental: every call works from the full example set so
// the rules always reflect exactly the examples currently on the pattern.
type Learner struct {
	logger *zap.Logger
}

// New creates a learner.
func New(logger *zap.Logger) *Learner {
	return &Learner{logger: logger}
}

// Learn infers regular expression rules from a non-empty example set. The
// first rule returned is the primary rule; all rules are applied during
// matching. Examples sharing a character-class structure (digit runs, letter
// runs, fixed separators) produce one generalized rule per structure group;
// examples without exploitable structure fall back to an escaped literal
// alternation that matches exactly those examples.
func (l *Learner) Learn(examples []string) ([]string, error) {
	var usable []string
	for _, ex := range examples {
		if strings.TrimSpace(ex) != "" {
			usable = append(usable, ex)
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no usable examples")
	}

	// Group examples by token structure, preserving first-seen order.
	type group struct {
		sig      string
		examples []string
		tokens   [][]token
	}
	var groups []*group
	bySig := make(map[string]*group)

	for _, ex := range usable {
		toks := tokenize(ex)
		sig := signature(toks)
		g, ok := bySig[sig]
		if !ok {
			g = &group{sig: sig}
			bySig[sig] = g
			groups = append(groups, g)
		}
		g.examples = append(g.examples, ex)
		g.tokens = append(g.tokens, toks)
	}

	var rules []string
	var literals []string
	for _, g := range groups {
		if structured(g.tokens[0]) {
			rules = append(rules, generalize(g.tokens))
		} else {
			// Plain words carry no shape worth generalizing; an exact
			// alternation avoids matching every same-length word.
			literals = append(literals, g.examples...)
		}
	}
	if len(literals) > 0 {
		rules = append(rules, alternation(literals))
	}

	// Reject any rule the regex engine cannot compile rather than shipping a
	// rule that would silently be skipped at match time.
	for _, rule := range rules {
		if _, err := regexp.Compile("(?i)" + rule); err != nil {
			l.logger.Error("Learned rule failed to compile",
				zap.String("rule", rule),
				zap.Error(err))
			return nil, fmt.Errorf("learned rule %q does not compile: %w", rule, err)
		}
	}

	l.logger.Debug("Pattern rules learned",
		zap.Int("examples", len(usable)),
		zap.Int("structure_groups", len(groups)),
		zap.Int("rules", len(rules)))

	return rules, nil
}

type tokenKind int

const (
	kindDigits tokenKind = iota
	kindAlpha
	kindSpace
	kindLiteral
)

type token struct {
	kind tokenKind
	text string
}

// tokenize splits an example into runs of digits, letters, whitespace, and
// single literal characters.
func tokenize(s string) []token {
	var toks []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			toks = append(toks, token{kindDigits, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(runes) && unicode.IsLetter(runes[j]) {
				j++
			}
			toks = append(toks, token{kindAlpha, string(runes[i:j])})
			i = j
		case unicode.IsSpace(r):
			j := i
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			toks = append(toks, token{kindSpace, string(runes[i:j])})
			i = j
		default:
			toks = append(toks, token{kindLiteral, string(r)})
			i++
		}
	}
	return toks
}

// signature identifies a token structure: the sequence of kinds, with literal
// separators compared by their exact text.
func signature(toks []token) string {
	var b strings.Builder
	for _, t := range toks {
		switch t.kind {
		case kindDigits:
			b.WriteString("D;")
		case kindAlpha:
			b.WriteString("A;")
		case kindSpace:
			b.WriteString("S;")
		case kindLiteral:
			b.WriteString("L" + t.text + ";")
		}
	}
	return b.String()
}

// structured reports whether a token sequence has shape worth generalizing:
// at least one digit run or one fixed separator.
func structured(toks []token) bool {
	for _, t := range toks {
		if t.kind == kindDigits || t.kind == kindLiteral {
			return true
		}
	}
	return false
}

// generalize builds one regex that matches every example in a structure group,
// widening run lengths to the observed min/max at each position.
func generalize(group [][]token) string {
	n := len(group[0])
	var b strings.Builder

	if edgeIsWord(group[0][0]) {
		b.WriteString(`\b`)
	}
	for pos := 0; pos < n; pos++ {
		min, max := runeLen(group[0][pos].text), runeLen(group[0][pos].text)
		for _, toks := range group[1:] {
			l := runeLen(toks[pos].text)
			if l < min {
				min = l
			}
			if l > max {
				max = l
			}
		}
		switch group[0][pos].kind {
		case kindDigits:
			b.WriteString(`\d` + quantifier(min, max))
		case kindAlpha:
			b.WriteString(alphaClass(group, pos) + quantifier(min, max))
		case kindSpace:
			b.WriteString(`\s` + quantifier(min, max))
		case kindLiteral:
			b.WriteString(regexp.QuoteMeta(group[0][pos].text))
		}
	}
	if edgeIsWord(group[0][n-1]) {
		b.WriteString(`\b`)
	}
	return b.String()
}

// alphaClass picks the narrowest letter class covering every run at pos.
func alphaClass(group [][]token, pos int) string {
	allUpper, allLower := true, true
	for _, toks := range group {
		for _, r := range toks[pos].text {
			if !unicode.IsUpper(r) {
				allUpper = false
			}
			if !unicode.IsLower(r) {
				allLower = false
			}
		}
	}
	switch {
	case allUpper:
		return `[A-Z]`
	case allLower:
		return `[a-z]`
	default:
		return `[A-Za-z]`
	}
}

// alternation builds an escaped-literal alternation matching exactly the
// given strings. Longer alternatives come first so they win over prefixes.
func alternation(examples []string) string {
	sorted := append([]string(nil), examples...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if len(sorted[j]) > len(sorted[i]) {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	parts := make([]string, len(sorted))
	for i, ex := range sorted {
		parts[i] = regexp.QuoteMeta(ex)
	}
	return "(?:" + strings.Join(parts, "|") + ")"
}

func quantifier(min, max int) string {
	if min == max {
		if min == 1 {
			return ""
		}
		return fmt.Sprintf("{%d}", min)
	}
	return fmt.Sprintf("{%d,%d}", min, max)
}

func edgeIsWord(t token) bool {
	return t.kind == kindDigits || t.kind == kindAlpha
}

func runeLen(s string) int {
	return len([]rune(s))
}

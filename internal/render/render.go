package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dataprep-studio/annotation-engine/internal/matcher"
	"github.com/dataprep-studio/annotation-engine/internal/pattern"
	"go.uber.org/zap"
)

// Renderer converts matched spans into an HTML string with inline highlight
// markup. The renderer never propagates a failure: any internal error during
// splicing falls back to the unmodified document text so the document view
// cannot go blank.
type Renderer struct {
	logger *zap.Logger
}

// New creates a renderer.
func New(logger *zap.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Highlight splices inline markup over each match, working from the highest
// start offset toward the lowest so completed splices never shift the offsets
// of spans earlier in the text. Same-pattern spans never share offsets (the
// matcher deduplicates them); overlapping spans from different patterns are
// handled best-effort, with the later span keeping the contested region and
// the earlier one clamped against it. All document text, matched or not, is
// HTML-escaped.
func (r *Renderer) Highlight(text string, matches []matcher.Match) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Highlight rendering failed, returning original text",
				zap.Any("panic", rec))
			out = text
		}
	}()

	if len(matches) == 0 {
		return EscapeHTML(text)
	}

	sorted := append([]matcher.Match(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	var pieces []string
	prepend := func(s string) { pieces = append(pieces, s) }

	// tail marks the start of the region already rendered.
	tail := len(text)
	for _, m := range sorted {
		if m.Start < 0 || m.End > len(text) || m.Start >= m.End {
			continue
		}
		if m.Start >= tail {
			// Entirely inside a span already rendered by another pattern.
			continue
		}
		end := m.End
		if end > tail {
			end = tail
		}
		prepend(EscapeHTML(text[end:tail]))
		prepend(r.span(m, text[m.Start:end]))
		tail = m.Start
	}
	prepend(EscapeHTML(text[:tail]))

	var b strings.Builder
	for i := len(pieces) - 1; i >= 0; i-- {
		b.WriteString(pieces[i])
	}
	return b.String()
}

// span renders one highlight element. Every attribute value and the matched
// text itself are escaped individually.
func (r *Renderer) span(m matcher.Match, text string) string {
	percent := int(m.Confidence*100 + 0.5)
	tooltip := fmt.Sprintf("%s (%d%% confidence) - click to give feedback", m.PatternLabel, percent)
	if !pattern.IsPersisted(m.PatternID) {
		tooltip = fmt.Sprintf("%s (%d%% confidence) - save the pattern to enable feedback", m.PatternLabel, percent)
	}
	return fmt.Sprintf(
		`<span class="annotation-highlight" data-pattern-id="%s" data-pattern-label="%s" data-confidence="%.2f" title="%s">%s</span>`,
		EscapeHTML(m.PatternID),
		EscapeHTML(m.PatternLabel),
		m.Confidence,
		EscapeHTML(tooltip),
		EscapeHTML(text),
	)
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// EscapeHTML escapes ampersands, angle brackets, and double quotes. Pure
// string substitution; no DOM involved.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

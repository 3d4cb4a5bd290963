package render

import (
	"regexp"
	"strings"
	"testing"

	"github.com/dataprep-studio/annotation-engine/internal/matcher"
	"go.uber.org/zap"
)

var tagPattern = regexp.MustCompile(`</?span[^>]*>`)

// stripTags removes highlight markup, leaving the escaped document text
func stripTags(html string) string {
	return tagPattern.ReplaceAllString(html, "")
}

// TestHighlight tests HTML rendering of matched spans
func TestHighlight(t *testing.T) {
	r := New(zap.NewNop())

	t.Run("NoMatchesEscapesText", func(t *testing.T) {
		out := r.Highlight(`a < b & c > "d"`, nil)
		want := "a &lt; b &amp; c &gt; &quot;d&quot;"
		if out != want {
			t.Errorf("Got %q, want %q", out, want)
		}
	})

	t.Run("SingleMatch", func(t *testing.T) {
		text := "SSN is 123-45-6789 today"
		out := r.Highlight(text, []matcher.Match{{
			Start: 7, End: 18, Text: "123-45-6789",
			PatternID: "pattern-1", PatternLabel: "Social Security Number",
			Confidence: 0.95,
		}})
		if !strings.Contains(out, `data-pattern-id="pattern-1"`) {
			t.Error("Missing pattern id attribute")
		}
		if !strings.Contains(out, `data-confidence="0.95"`) {
			t.Error("Missing confidence attribute")
		}
		if !strings.Contains(out, ">123-45-6789</span>") {
			t.Error("Matched text not wrapped in span")
		}
		if !strings.HasPrefix(out, "SSN is ") || !strings.HasSuffix(out, " today") {
			t.Errorf("Surrounding text mangled: %q", out)
		}
	})

	t.Run("TooltipDependsOnPersistence", func(t *testing.T) {
		text := "x abc y"
		match := matcher.Match{Start: 2, End: 5, Text: "abc", PatternLabel: "L", Confidence: 1.0}

		match.PatternID = "pattern-1"
		out := r.Highlight(text, []matcher.Match{match})
		if !strings.Contains(out, "save the pattern to enable feedback") {
			t.Error("Predefined pattern should prompt to save before feedback")
		}

		match.PatternID = "42"
		out = r.Highlight(text, []matcher.Match{match})
		if !strings.Contains(out, "click to give feedback") {
			t.Error("Persisted pattern should invite feedback")
		}
	})

	t.Run("AllTextEscaped", func(t *testing.T) {
		text := `<tag> & "quote" MATCH <more> & "end"`
		out := r.Highlight(text, []matcher.Match{{
			Start: 16, End: 21, Text: "MATCH", PatternID: "pattern-1", PatternLabel: "A", Confidence: 1.0,
		}})
		stripped := stripTags(out)
		if stripped != EscapeHTML(text) {
			t.Errorf("Stripped output %q != escaped input %q", stripped, EscapeHTML(text))
		}
		if strings.Contains(stripped, "<tag>") {
			t.Error("Raw markup leaked into output")
		}
	})

	t.Run("EscapedMatchedText", func(t *testing.T) {
		text := `before <b&d> after`
		out := r.Highlight(text, []matcher.Match{{
			Start: 7, End: 12, Text: "<b&d>", PatternID: "pattern-1", PatternLabel: "A", Confidence: 1.0,
		}})
		if !strings.Contains(out, "&lt;b&amp;d&gt;") {
			t.Errorf("Matched text not escaped: %q", out)
		}
	})

	t.Run("MultipleMatchesKeepDocumentOrder", func(t *testing.T) {
		text := "alpha beta gamma"
		out := r.Highlight(text, []matcher.Match{
			{Start: 11, End: 16, Text: "gamma", PatternID: "pattern-2", PatternLabel: "B", Confidence: 0.95},
			{Start: 0, End: 5, Text: "alpha", PatternID: "pattern-1", PatternLabel: "A", Confidence: 1.0},
		})
		if stripTags(out) != "alpha beta gamma" {
			t.Errorf("Document text mangled: %q", stripTags(out))
		}
		if strings.Count(out, "<span") != 2 {
			t.Errorf("Expected 2 spans, got %d", strings.Count(out, "<span"))
		}
	})

	t.Run("OverlappingSpansBestEffort", func(t *testing.T) {
		text := "abcdefghij"
		out := r.Highlight(text, []matcher.Match{
			{Start: 0, End: 6, Text: "abcdef", PatternID: "pattern-1", PatternLabel: "A", Confidence: 1.0},
			{Start: 4, End: 9, Text: "efghi", PatternID: "pattern-2", PatternLabel: "B", Confidence: 0.95},
		})
		// No text may be duplicated or lost, whatever the split
		if stripTags(out) != "abcdefghij" {
			t.Errorf("Overlap handling lost or duplicated text: %q", stripTags(out))
		}
	})

	t.Run("InvalidSpansIgnored", func(t *testing.T) {
		text := "short"
		out := r.Highlight(text, []matcher.Match{
			{Start: 2, End: 99, Text: "oops", PatternID: "pattern-1", PatternLabel: "A", Confidence: 1.0},
			{Start: -1, End: 3, Text: "oops", PatternID: "pattern-1", PatternLabel: "A", Confidence: 1.0},
			{Start: 4, End: 4, Text: "", PatternID: "pattern-1", PatternLabel: "A", Confidence: 1.0},
		})
		if out != "short" {
			t.Errorf("Invalid spans should render plain text, got %q", out)
		}
	})
}

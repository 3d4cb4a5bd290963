package mldetect

import (
	"context"
	"math"
	"testing"

	"github.com/dataprep-studio/annotation-engine/internal/matcher"
	"github.com/dataprep-studio/annotation-engine/internal/pattern"
	"go.uber.org/zap"
)

// TestDetectPattern tests fuzzy window detection with the hash backend
func TestDetectPattern(t *testing.T) {
	ctx := context.Background()
	d := New(&Config{Enabled: true, MinSimilarity: 0.75, MaxWindowTokens: 6}, zap.NewNop())

	t.Run("FindsNearDuplicateOfExample", func(t *testing.T) {
		p := &pattern.Definition{
			ID:       "42",
			Label:    "Phone Number",
			Examples: []string{"555-123-4567"},
		}
		text := "call 555-123-4568 soon"
		matches, err := d.DetectPattern(ctx, text, p)
		if err != nil {
			t.Fatalf("DetectPattern failed: %v", err)
		}
		if len(matches) == 0 {
			t.Fatal("Near-duplicate of the example not detected")
		}
		m := matches[0]
		if m.Text != "555-123-4568" {
			t.Errorf("Detected %q, want the near-duplicate token", m.Text)
		}
		if m.Source != matcher.SourceML {
			t.Errorf("Source = %s, want %s", m.Source, matcher.SourceML)
		}
		if m.Confidence < 0.75 || m.Confidence > 1.0 {
			t.Errorf("Confidence %f outside [threshold, 1]", m.Confidence)
		}
		if text[m.Start:m.End] != m.Text {
			t.Errorf("Offsets [%d,%d) do not agree with text %q", m.Start, m.End, m.Text)
		}
	})

	t.Run("UnrelatedTextBelowThreshold", func(t *testing.T) {
		p := &pattern.Definition{
			ID:       "42",
			Label:    "Phone Number",
			Examples: []string{"555-123-4567"},
		}
		matches, err := d.DetectPattern(ctx, "completely unrelated words here", p)
		if err != nil {
			t.Fatalf("DetectPattern failed: %v", err)
		}
		if len(matches) != 0 {
			t.Errorf("Unrelated text produced %d matches", len(matches))
		}
	})

	t.Run("NoExamplesNoMatches", func(t *testing.T) {
		p := &pattern.Definition{ID: "42", Label: "Empty"}
		matches, err := d.DetectPattern(ctx, "555-123-4567", p)
		if err != nil {
			t.Fatalf("DetectPattern failed: %v", err)
		}
		if matches != nil {
			t.Errorf("Pattern without examples returned matches: %v", matches)
		}
	})

	t.Run("AcceptedSpansDoNotOverlap", func(t *testing.T) {
		p := &pattern.Definition{
			ID:       "42",
			Label:    "Phone Number",
			Examples: []string{"555-123-4567", "555 123 4567"},
		}
		matches, err := d.DetectPattern(ctx, "555-123-4567 555-123-4567 555-123-4567", p)
		if err != nil {
			t.Fatalf("DetectPattern failed: %v", err)
		}
		for i := 0; i < len(matches); i++ {
			for j := i + 1; j < len(matches); j++ {
				if matches[i].Start < matches[j].End && matches[j].Start < matches[i].End {
					t.Errorf("Overlapping accepted spans: [%d,%d) and [%d,%d)",
						matches[i].Start, matches[i].End, matches[j].Start, matches[j].End)
				}
			}
		}
		for i := 1; i < len(matches); i++ {
			if matches[i].Start < matches[i-1].Start {
				t.Error("Accepted matches not sorted by start")
			}
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		p := &pattern.Definition{ID: "42", Label: "A", Examples: []string{"x"}}
		if _, err := d.DetectPattern(cancelled, "some text", p); err == nil {
			t.Error("Expected error for cancelled context")
		}
	})
}

// TestHashEmbed tests the deterministic hash embedding
func TestHashEmbed(t *testing.T) {
	t.Run("DeterministicAndNormalized", func(t *testing.T) {
		a := hashEmbed("555-123-4567")
		b := hashEmbed("555-123-4567")
		var norm float64
		for i := range a {
			if a[i] != b[i] {
				t.Fatal("Embedding is not deterministic")
			}
			norm += float64(a[i]) * float64(a[i])
		}
		if math.Abs(norm-1.0) > 1e-5 {
			t.Errorf("Embedding not L2-normalized: norm^2 = %f", norm)
		}
	})

	t.Run("SimilarTextsCloser", func(t *testing.T) {
		base := hashEmbed("555-123-4567")
		near := hashEmbed("555-123-4568")
		far := hashEmbed("unrelated words")
		if cosineSimilarity(base, near) <= cosineSimilarity(base, far) {
			t.Error("Near-duplicate not closer than unrelated text")
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		vec := hashEmbed("")
		for _, v := range vec {
			if v != 0 {
				t.Fatal("Empty text should embed to the zero vector")
			}
		}
	})
}

// TestSplitWords tests byte-offset tokenization
func TestSplitWords(t *testing.T) {
	words := splitWords("  one two\tthree ")
	if len(words) != 3 {
		t.Fatalf("Expected 3 words, got %d", len(words))
	}
	text := "  one two\tthree "
	wants := []string{"one", "two", "three"}
	for i, w := range words {
		if text[w.start:w.end] != wants[i] {
			t.Errorf("Word %d = %q, want %q", i, text[w.start:w.end], wants[i])
		}
	}
}

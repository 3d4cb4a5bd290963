package mldetect

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/dataprep-studio/annotation-engine/internal/matcher"
	"github.com/dataprep-studio/annotation-engine/internal/pattern"
	"go.uber.org/zap"
)

// hashDimensions is the embedding size of the default hash backend.
const hashDimensions = 256

// Config contains ML detection configuration.
type Config struct {
	Enabled         bool    `yaml:"enabled" mapstructure:"enabled"`
	MinSimilarity   float64 `yaml:"min_similarity" mapstructure:"min_similarity"`
	MaxWindowTokens int     `yaml:"max_window_tokens" mapstructure:"max_window_tokens"`
	UseTransformer  bool    `yaml:"use_transformer" mapstructure:"use_transformer"`
	ModelPath       string  `yaml:"model_path" mapstructure:"model_path"`
	MaxLength       int     `yaml:"max_length" mapstructure:"max_length"`
}

// Detector finds fuzzy pattern occurrences that the regex and literal passes
// miss, by comparing candidate text windows against the pattern's examples in
// embedding space. Confidences are similarity scores and are reported exactly
// as computed; they are not normalized against the regex/literal scale.
type Detector struct {
	config  *Config
	backend TransformerBackend
	logger  *zap.Logger
}

// New creates a detector. When UseTransformer is set and the build provides a
// backend, embeddings come from the transformer; otherwise a deterministic
// character-trigram hash embedding is used.
func New(config *Config, logger *zap.Logger) *Detector {
	d := &Detector{config: config, logger: logger}
	if config.UseTransformer {
		d.backend = NewTransformerBackend(logger, config.ModelPath, config.MaxLength)
		if d.backend == nil {
			logger.Warn("Transformer backend unavailable, using hash embeddings")
		}
	}
	return d
}

// DetectPattern scans text for fuzzy occurrences of one pattern. Candidate
// windows are word-aligned, sized by the pattern's example word counts.
// Within a single pass, a candidate overlapping an already-accepted span is
// dropped; higher-confidence candidates are accepted first.
func (d *Detector) DetectPattern(ctx context.Context, text string, p *pattern.Definition) ([]matcher.Match, error) {
	if !p.HasExamples() {
		return nil, nil
	}

	exampleVecs, err := d.embed(ctx, p.Examples)
	if err != nil {
		return nil, fmt.Errorf("failed to embed examples for pattern %s: %w", p.ID, err)
	}
	centroid := meanVector(exampleVecs)

	words := splitWords(text)
	if len(words) == 0 {
		return nil, nil
	}

	minTokens, maxTokens := exampleTokenRange(p.Examples)
	if d.config.MaxWindowTokens > 0 && maxTokens > d.config.MaxWindowTokens {
		maxTokens = d.config.MaxWindowTokens
	}

	type window struct{ start, end int }
	var windows []window
	var candidates []string
	for size := minTokens; size <= maxTokens; size++ {
		for i := 0; i+size <= len(words); i++ {
			start := words[i].start
			end := words[i+size-1].end
			windows = append(windows, window{start, end})
			candidates = append(candidates, text[start:end])
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	candidateVecs, err := d.embed(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to embed candidates for pattern %s: %w", p.ID, err)
	}

	threshold := d.config.MinSimilarity
	if threshold <= 0 {
		threshold = 0.75
	}

	var scored []matcher.Match
	for i, vec := range candidateVecs {
		sim := cosineSimilarity(centroid, vec)
		if sim < threshold {
			continue
		}
		scored = append(scored, matcher.Match{
			Start:        windows[i].start,
			End:          windows[i].end,
			Text:         candidates[i],
			PatternID:    p.ID,
			PatternLabel: p.Label,
			Confidence:   sim,
			Source:       matcher.SourceML,
		})
	}

	// Intra-pass overlap suppression: best candidates claim their span first.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Confidence > scored[j].Confidence })
	var accepted []matcher.Match
	for _, c := range scored {
		overlaps := false
		for _, a := range accepted {
			if c.Start < a.End && a.Start < c.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c)
		}
	}
	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })

	d.logger.Debug("ML detection pass completed",
		zap.String("pattern_id", p.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("accepted", len(accepted)))

	return accepted, nil
}

// Close releases backend resources.
func (d *Detector) Close() error {
	if d.backend != nil {
		return d.backend.Close()
	}
	return nil
}

// embed returns one normalized embedding per text.
func (d *Detector) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if d.backend != nil && d.backend.IsReady() {
		return d.backend.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = hashEmbed(t)
	}
	return out, nil
}

// hashEmbed builds a deterministic character-trigram embedding. Trigram
// counts are hashed into a fixed number of buckets and L2-normalized.
func hashEmbed(text string) []float32 {
	vec := make([]float32, hashDimensions)
	runes := []rune(strings.ToLower(text))
	if len(runes) == 0 {
		return vec
	}
	padded := make([]rune, 0, len(runes)+2)
	padded = append(padded, ' ')
	padded = append(padded, runes...)
	padded = append(padded, ' ')
	for i := 0; i+3 <= len(padded); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(padded[i : i+3])))
		vec[h.Sum32()%hashDimensions]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// cosineSimilarity computes the cosine of the angle between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// meanVector averages a set of vectors.
func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	mean := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i := range v {
			if i < len(mean) {
				mean[i] += v[i]
			}
		}
	}
	inv := 1.0 / float32(len(vecs))
	for i := range mean {
		mean[i] *= inv
	}
	return mean
}

type wordSpan struct {
	start, end int
}

// splitWords returns byte offsets of whitespace-delimited tokens.
func splitWords(text string) []wordSpan {
	var words []wordSpan
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, wordSpan{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, wordSpan{start, len(text)})
	}
	return words
}

// exampleTokenRange returns the min and max word counts across examples.
func exampleTokenRange(examples []string) (int, int) {
	min, max := 0, 0
	for _, ex := range examples {
		n := len(strings.Fields(ex))
		if n == 0 {
			continue
		}
		if min == 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if min == 0 {
		min, max = 1, 1
	}
	return min, max
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dataprep-studio/annotation-engine/internal/feedback"
	"github.com/dataprep-studio/annotation-engine/internal/learner"
	"github.com/dataprep-studio/annotation-engine/internal/matcher"
	"github.com/dataprep-studio/annotation-engine/internal/pattern"
	"github.com/dataprep-studio/annotation-engine/internal/refine"
	"github.com/dataprep-studio/annotation-engine/internal/render"
	"go.uber.org/zap"
)

// Controller errors surfaced to callers. They indicate rejected operations,
// not internal failures.
var (
	ErrEmptyText        = errors.New("selected text is empty")
	ErrEmptyLabel       = errors.New("pattern label is empty")
	ErrPatternNotFound  = errors.New("pattern not found")
	ErrExampleNotFound  = errors.New("example index out of range")
	ErrDetectionRunning = errors.New("ml detection already in flight")
	ErrFeedbackDenied   = errors.New("feedback requires a persisted, non-context pattern")
	ErrNoDocuments      = errors.New("session has no documents")
)

// Document is one text document in the annotation set.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// PatternDetector runs the fuzzy ML pass for one pattern. It is explicitly
// user-triggered and never runs as part of the regular highlight recompute.
type PatternDetector interface {
	DetectPattern(ctx context.Context, text string, p *pattern.Definition) ([]matcher.Match, error)
}

// Options configures a new annotation session.
type Options struct {
	Documents       []Document
	InitialPatterns []*pattern.Definition
	DataSourceID    string
}

// Controller owns the working pattern list and the per-document highlight
// caches for one annotation session. Every mutating operation recomputes the
// current document's highlights before returning, so highlights can never go
// stale across a pattern, document, or refinement change. All operations
// serialize through one mutex, standing in for the UI event queue of the
// hosting application.
type Controller struct {
	mu sync.Mutex

	patterns     []*pattern.Definition
	docs         []Document
	docIndex     int
	dataSourceID string
	selection    string

	refined      map[string]*refine.Refined
	highlights   map[int]string
	mlHighlights map[int]string
	mlViewOn     bool
	mlRunning    bool

	learner  *learner.Learner
	matcher  *matcher.Matcher
	renderer *render.Renderer
	detector PatternDetector
	store    feedback.Submitter

	logger *zap.Logger
}

// NewController creates a session over a document set, merging any resumed
// patterns into the predefined catalog.
func NewController(opts Options, detector PatternDetector, store feedback.Submitter, logger *zap.Logger) (*Controller, error) {
	if len(opts.Documents) == 0 {
		return nil, ErrNoDocuments
	}

	c := &Controller{
		patterns:     mergeInitial(pattern.DefaultCatalog(), opts.InitialPatterns),
		docs:         opts.Documents,
		dataSourceID: opts.DataSourceID,
		refined:      make(map[string]*refine.Refined),
		highlights:   make(map[int]string),
		mlHighlights: make(map[int]string),
		learner:      learner.New(logger),
		matcher:      matcher.New(logger),
		renderer:     render.New(logger),
		detector:     detector,
		store:        store,
		logger:       logger,
	}

	c.recomputeLocked()

	logger.Info("Annotation session started",
		zap.Int("documents", len(opts.Documents)),
		zap.Int("patterns", len(c.patterns)),
		zap.Int("resumed_patterns", len(opts.InitialPatterns)))

	return c, nil
}

// mergeInitial folds resumed patterns into the predefined catalog: match by
// id first, then by (label, type), adopting the persisted id so feedback
// becomes available; unmatched patterns are appended, with a disambiguating
// id prefix when their label collides with a predefined one. Duplicate labels
// after the merge collapse to the first occurrence.
func mergeInitial(patterns []*pattern.Definition, initial []*pattern.Definition) []*pattern.Definition {
	for _, init := range initial {
		if init == nil {
			continue
		}
		var target *pattern.Definition
		for _, p := range patterns {
			if p.ID == init.ID {
				target = p
				break
			}
		}
		if target == nil {
			for _, p := range patterns {
				if p.Label == init.Label && p.Category == init.Category {
					target = p
					break
				}
			}
		}
		if target != nil {
			target.ID = init.ID
			target.Examples = append([]string(nil), init.Examples...)
			target.ExistingExamples = append([]string(nil), init.Examples...)
			target.Regex = init.Regex
			target.RegexPatterns = append([]string(nil), init.RegexPatterns...)
			continue
		}

		added := init.Clone()
		added.ExistingExamples = append([]string(nil), init.Examples...)
		for _, p := range patterns {
			if p.Label == added.Label {
				added.ID = "saved-" + added.ID
				break
			}
		}
		patterns = append(patterns, added)
	}

	seen := make(map[string]bool)
	out := patterns[:0]
	for _, p := range patterns {
		if seen[p.Label] {
			continue
		}
		seen[p.Label] = true
		out = append(out, p)
	}
	return out
}

// SetSelection records the user's current text selection.
func (c *Controller) SetSelection(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = text
}

// AddExample appends selected text as an example of the chosen pattern and
// re-learns the pattern's rules from the full updated example set. The
// selection state is cleared afterward. A learning failure keeps the previous
// rules and the example.
func (c *Controller) AddExample(patternID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if text == "" {
		text = c.selection
	}
	if text == "" {
		return ErrEmptyText
	}
	p := c.findPattern(patternID)
	if p == nil {
		return ErrPatternNotFound
	}

	p.Examples = append(p.Examples, text)
	c.relearn(p)
	c.selection = ""
	c.recomputeLocked()

	c.logger.Debug("Example added",
		zap.String("pattern_id", p.ID),
		zap.Int("examples", len(p.Examples)))
	return nil
}

// RemoveExample removes the example at index from a pattern. Remaining
// examples trigger a re-learn; removing the last example clears all learned
// rules so an empty pattern never carries stale rules.
func (c *Controller) RemoveExample(patternID string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.findPattern(patternID)
	if p == nil {
		return ErrPatternNotFound
	}
	if index < 0 || index >= len(p.Examples) {
		return ErrExampleNotFound
	}

	p.Examples = append(p.Examples[:index], p.Examples[index+1:]...)
	if len(p.Examples) == 0 {
		p.ClearRules()
	} else {
		c.relearn(p)
	}
	c.recomputeLocked()

	c.logger.Debug("Example removed",
		zap.String("pattern_id", p.ID),
		zap.Int("examples", len(p.Examples)))
	return nil
}

// AddCustomPattern creates a new custom pattern with a session-unique id and
// prepends it to the working list.
func (c *Controller) AddCustomPattern(label string) (*pattern.Definition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if label == "" {
		return nil, ErrEmptyLabel
	}
	p := &pattern.Definition{
		ID:       fmt.Sprintf("custom-%d", time.Now().UnixNano()),
		Label:    label,
		Category: pattern.CategoryCustom,
	}
	c.patterns = append([]*pattern.Definition{p}, c.patterns...)
	c.recomputeLocked()

	c.logger.Info("Custom pattern created", zap.String("pattern_id", p.ID), zap.String("label", label))
	return p.Clone(), nil
}

// RemovePattern removes a pattern by id. Removing a predefined pattern only
// affects this session; it reappears at the next session start.
func (c *Controller) RemovePattern(patternID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.patterns {
		if p.ID == patternID {
			c.patterns = append(c.patterns[:i], c.patterns[i+1:]...)
			c.recomputeLocked()
			c.logger.Debug("Pattern removed", zap.String("pattern_id", patternID))
			return nil
		}
	}
	return ErrPatternNotFound
}

// relearn re-derives a pattern's rules from its full example set. Learning
// failures leave the previous rule state untouched.
func (c *Controller) relearn(p *pattern.Definition) {
	rules, err := c.learner.Learn(p.Examples)
	if err != nil {
		c.logger.Error("Pattern learning failed, keeping previous rules",
			zap.String("pattern_id", p.ID),
			zap.Error(err))
		return
	}
	p.SetRules(rules)
}

// RunMLDetection runs the fuzzy pass for every pattern with at least one
// example against the current document and renders a separate highlighted
// view. At most one pass is in flight per session; re-entrant calls are
// rejected with ErrDetectionRunning. The pass is idempotent and may be
// re-triggered manually at any time.
func (c *Controller) RunMLDetection(ctx context.Context) error {
	c.mu.Lock()
	if c.mlRunning {
		c.mu.Unlock()
		return ErrDetectionRunning
	}
	if c.detector == nil {
		c.mu.Unlock()
		return fmt.Errorf("no ml detector configured")
	}
	c.mlRunning = true
	docIndex := c.docIndex
	doc := c.docs[docIndex]
	patterns := make([]*pattern.Definition, 0, len(c.patterns))
	for _, p := range c.patterns {
		if p.HasExamples() {
			patterns = append(patterns, p.Clone())
		}
	}
	refined := c.refined
	c.mu.Unlock()

	var all []matcher.Match
	var failed int
	for _, p := range patterns {
		matches, err := c.detector.DetectPattern(ctx, doc.Text, p)
		if err != nil {
			failed++
			c.logger.Error("ML detection failed for pattern",
				zap.String("pattern_id", p.ID),
				zap.Error(err))
			continue
		}
		all = append(all, matches...)
	}
	if failed == len(patterns) && failed > 0 {
		// Total failure keeps whatever view was already computed so a
		// backend outage never blanks the document. The caller may retry.
		c.mu.Lock()
		c.mlRunning = false
		c.mu.Unlock()
		return fmt.Errorf("ml detection failed for all %d patterns", failed)
	}

	all = refine.Apply(all, refined)
	html := c.renderer.Highlight(doc.Text, all)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mlRunning = false
	c.mlHighlights[docIndex] = html
	if docIndex == c.docIndex {
		c.mlViewOn = true
	}

	c.logger.Info("ML detection completed",
		zap.String("document_id", doc.ID),
		zap.Int("patterns", len(patterns)),
		zap.Int("matches", len(all)),
		zap.Int("failed_patterns", failed))

	return nil
}

// SubmitFeedback posts feedback for a highlighted match. Only persisted
// patterns that are not context clues accept feedback. On success the
// refinement data is refetched and highlights recomputed; on failure local
// state is left exactly as it was.
func (c *Controller) SubmitFeedback(ctx context.Context, patternID, matchedText, feedbackType string, confidence float64) error {
	c.mu.Lock()
	p := c.findPattern(patternID)
	if p == nil {
		c.mu.Unlock()
		return ErrPatternNotFound
	}
	if !pattern.IsPersisted(p.ID) || p.IsContextClue {
		c.mu.Unlock()
		return ErrFeedbackDenied
	}
	if c.store == nil {
		c.mu.Unlock()
		return fmt.Errorf("no feedback store configured")
	}
	doc := c.docs[c.docIndex]
	c.mu.Unlock()

	record := &feedback.Record{
		PatternID:          patternID,
		FeedbackType:       feedbackType,
		Context:            "annotation",
		MatchedText:        matchedText,
		OriginalConfidence: confidence,
		DataSourceID:       c.dataSourceID,
	}
	if record.DataSourceID == "" {
		record.DataSourceID = doc.ID
	}
	if err := c.store.Submit(ctx, record); err != nil {
		return fmt.Errorf("feedback submission failed: %w", err)
	}

	if err := c.RefreshRefined(ctx); err != nil {
		// Feedback landed; stale refinement only lasts until the next fetch.
		c.logger.Warn("Refinement refetch after feedback failed", zap.Error(err))
	}
	return nil
}

// RefreshRefined refetches refinement data from the store and recomputes
// highlights. A fetch failure keeps the previous refinement state so
// existing highlights survive network trouble.
func (c *Controller) RefreshRefined(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	refined, err := c.store.FetchRefined(ctx)
	if err != nil {
		return fmt.Errorf("refined patterns fetch failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refined = refined
	c.recomputeLocked()
	return nil
}

// NextDocument advances to the next document, turning the ML view off while
// preserving the pattern list and its highlighting.
func (c *Controller) NextDocument() bool {
	return c.navigate(1)
}

// PreviousDocument moves to the previous document.
func (c *Controller) PreviousDocument() bool {
	return c.navigate(-1)
}

func (c *Controller) navigate(delta int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.docIndex + delta
	if next < 0 || next >= len(c.docs) {
		return false
	}
	c.docIndex = next
	c.mlViewOn = false
	c.recomputeLocked()
	return true
}

// SetMLView toggles the ML highlight view independently of the regex view.
func (c *Controller) SetMLView(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mlViewOn = on
}

// Finalize returns every pattern that carries at least one example. Patterns
// with no examples are dropped: they hold no matching information.
func (c *Controller) Finalize() []*pattern.Definition {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*pattern.Definition
	for _, p := range c.patterns {
		if p.HasExamples() {
			out = append(out, p.Clone())
		}
	}
	return out
}

// Patterns returns a copy of the working pattern list.
func (c *Controller) Patterns() []*pattern.Definition {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*pattern.Definition, len(c.patterns))
	for i, p := range c.patterns {
		out[i] = p.Clone()
	}
	return out
}

// CurrentDocument returns the document in view.
func (c *Controller) CurrentDocument() (Document, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docs[c.docIndex], c.docIndex
}

// DocumentCount returns the number of documents in the session.
func (c *Controller) DocumentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// DataSourceID returns the data source this session annotates.
func (c *Controller) DataSourceID() string {
	return c.dataSourceID
}

// HighlightedHTML returns the rendered view of the current document: the ML
// view when toggled on and available, the regex/literal view otherwise.
func (c *Controller) HighlightedHTML() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mlViewOn {
		if html, ok := c.mlHighlights[c.docIndex]; ok {
			return html
		}
	}
	if html, ok := c.highlights[c.docIndex]; ok {
		return html
	}
	return c.renderLocked()
}

// Matches returns the refined match set for the current document.
func (c *Controller) Matches() []matcher.Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := c.docs[c.docIndex]
	return refine.Apply(c.matcher.FindMatches(doc.Text, c.patterns), c.refined)
}

func (c *Controller) findPattern(id string) *pattern.Definition {
	for _, p := range c.patterns {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// recomputeLocked invalidates every cached document view and re-renders the
// current one. Callers hold the mutex.
func (c *Controller) recomputeLocked() {
	c.highlights = make(map[int]string)
	c.highlights[c.docIndex] = c.renderLocked()
}

// renderLocked runs the match-refine-render pipeline for the current
// document. Callers hold the mutex.
func (c *Controller) renderLocked() string {
	doc := c.docs[c.docIndex]
	matches := c.matcher.FindMatches(doc.Text, c.patterns)
	matches = refine.Apply(matches, c.refined)
	html := c.renderer.Highlight(doc.Text, matches)
	c.highlights[c.docIndex] = html
	return html
}

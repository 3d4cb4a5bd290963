package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dataprep-studio/annotation-engine/internal/refine"
	"go.uber.org/zap"
)

// ClientConfig contains remote feedback store configuration.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Client talks to a remote feedback store over HTTP. A failed call surfaces
// as an error to the caller; it never mutates any local state, so existing
// highlights survive network failures.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a feedback store client.
func NewClient(config *ClientConfig, logger *zap.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Submit posts one feedback record. Any non-error acknowledgement counts as
// success.
func (c *Client) Submit(ctx context.Context, record *Record) error {
	if !record.Valid() {
		return fmt.Errorf("invalid feedback record for pattern %q", record.PatternID)
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback record: %w", err)
	}

	url := c.config.BaseURL + "/api/pattern-feedback"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build feedback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Feedback submission failed",
			zap.String("pattern_id", record.PatternID),
			zap.Error(err))
		return fmt.Errorf("feedback submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("feedback store returned HTTP %d", resp.StatusCode)
	}

	c.logger.Info("Feedback submitted",
		zap.String("pattern_id", record.PatternID),
		zap.String("feedback_type", record.FeedbackType))
	return nil
}

// FetchRefined retrieves the refinement data for every persisted pattern.
func (c *Client) FetchRefined(ctx context.Context) (map[string]*refine.Refined, error) {
	url := c.config.BaseURL + "/api/patterns/refined"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build refined patterns request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refined patterns fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feedback store returned HTTP %d", resp.StatusCode)
	}

	var refined map[string]*refine.Refined
	if err := json.NewDecoder(resp.Body).Decode(&refined); err != nil {
		return nil, fmt.Errorf("failed to decode refined patterns: %w", err)
	}
	for id, r := range refined {
		if r != nil && r.PatternID == "" {
			r.PatternID = id
		}
	}
	return refined, nil
}

package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dataprep-studio/annotation-engine/internal/pattern"
	"github.com/dataprep-studio/annotation-engine/internal/refine"
	"go.uber.org/zap"
)

// StoreConfig contains database configuration.
type StoreConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// Store is the PostgreSQL-backed feedback and pattern store used when the
// service hosts its own store instead of delegating to a remote one.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS pattern_feedback (
	id BIGSERIAL PRIMARY KEY,
	pattern_id TEXT NOT NULL,
	feedback_type TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	matched_text TEXT NOT NULL,
	original_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	data_source_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pattern_feedback_pattern ON pattern_feedback (pattern_id);

CREATE TABLE IF NOT EXISTS pattern_settings (
	pattern_id TEXT PRIMARY KEY,
	confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.7
);

CREATE TABLE IF NOT EXISTS saved_patterns (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	pattern_id TEXT NOT NULL,
	label TEXT NOT NULL,
	category TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	is_context_clue BOOLEAN NOT NULL DEFAULT FALSE,
	examples_json TEXT NOT NULL DEFAULT '[]',
	regex TEXT NOT NULL DEFAULT '',
	regex_patterns_json TEXT NOT NULL DEFAULT '[]',
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (session_id, pattern_id)
);`

// NewStore creates a feedback store connected to PostgreSQL.
func NewStore(config *StoreConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &Store{db: db, logger: logger}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Feedback store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return store, nil
}

// initialize checks the connection and creates the schema.
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Submit persists one feedback record.
func (s *Store) Submit(ctx context.Context, record *Record) error {
	if !record.Valid() {
		return fmt.Errorf("invalid feedback record for pattern %q", record.PatternID)
	}

	query := `
		INSERT INTO pattern_feedback (pattern_id, feedback_type, context, matched_text, original_confidence, data_source_id)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.db.ExecContext(ctx, query,
		record.PatternID,
		record.FeedbackType,
		record.Context,
		record.MatchedText,
		record.OriginalConfidence,
		record.DataSourceID,
	); err != nil {
		s.logger.Error("Failed to insert feedback",
			zap.Error(err),
			zap.String("pattern_id", record.PatternID))
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	s.logger.Debug("Feedback stored",
		zap.String("pattern_id", record.PatternID),
		zap.String("feedback_type", record.FeedbackType))
	return nil
}

// FetchRefined aggregates feedback into refinement data per pattern id:
// distinct negatively-flagged matched texts become the exclusion set, and any
// per-pattern threshold override is applied.
func (s *Store) FetchRefined(ctx context.Context) (map[string]*refine.Refined, error) {
	refined := make(map[string]*refine.Refined)

	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_id, matched_text
		FROM pattern_feedback
		WHERE feedback_type = $1
		GROUP BY pattern_id, matched_text`, TypeNegative)
	if err != nil {
		return nil, fmt.Errorf("failed to query negative feedback: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var patternID, matchedText string
		if err := rows.Scan(&patternID, &matchedText); err != nil {
			s.logger.Error("Failed to scan feedback row", zap.Error(err))
			continue
		}
		r, ok := refined[patternID]
		if !ok {
			r = &refine.Refined{
				PatternID:           patternID,
				ConfidenceThreshold: refine.DefaultConfidenceThreshold,
			}
			refined[patternID] = r
		}
		r.ExcludedExamples = append(r.ExcludedExamples, matchedText)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feedback rows: %w", err)
	}

	settings, err := s.db.QueryContext(ctx, `SELECT pattern_id, confidence_threshold FROM pattern_settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern settings: %w", err)
	}
	defer settings.Close()

	for settings.Next() {
		var patternID string
		var threshold float64
		if err := settings.Scan(&patternID, &threshold); err != nil {
			s.logger.Error("Failed to scan settings row", zap.Error(err))
			continue
		}
		r, ok := refined[patternID]
		if !ok {
			r = &refine.Refined{PatternID: patternID}
			refined[patternID] = r
		}
		r.ConfidenceThreshold = threshold
	}
	if err := settings.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings rows: %w", err)
	}

	return refined, nil
}

// SavePatterns persists a finalized pattern list under a session id,
// replacing any previous save for that session.
func (s *Store) SavePatterns(ctx context.Context, sessionID string, patterns []*pattern.Definition) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM saved_patterns WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear previous save: %w", err)
	}

	for _, p := range patterns {
		examples, err := json.Marshal(p.Examples)
		if err != nil {
			return fmt.Errorf("failed to marshal examples for %s: %w", p.ID, err)
		}
		rules, err := json.Marshal(p.RegexPatterns)
		if err != nil {
			return fmt.Errorf("failed to marshal rules for %s: %w", p.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO saved_patterns (session_id, pattern_id, label, category, color, is_context_clue, examples_json, regex, regex_patterns_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			sessionID, p.ID, p.Label, string(p.Category), p.Color, p.IsContextClue, string(examples), p.Regex, string(rules),
		); err != nil {
			return fmt.Errorf("failed to save pattern %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}

	s.logger.Info("Session patterns saved",
		zap.String("session_id", sessionID),
		zap.Int("patterns", len(patterns)))
	return nil
}

// SavedPatterns loads a previously saved pattern list for session resume.
func (s *Store) SavedPatterns(ctx context.Context, sessionID string) ([]*pattern.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_id, label, category, color, is_context_clue, examples_json, regex, regex_patterns_json
		FROM saved_patterns
		WHERE session_id = $1
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query saved patterns: %w", err)
	}
	defer rows.Close()

	var out []*pattern.Definition
	for rows.Next() {
		var p pattern.Definition
		var category, examplesJSON, rulesJSON string
		if err := rows.Scan(&p.ID, &p.Label, &category, &p.Color, &p.IsContextClue, &examplesJSON, &p.Regex, &rulesJSON); err != nil {
			s.logger.Error("Failed to scan saved pattern", zap.Error(err))
			continue
		}
		p.Category = pattern.Category(category)
		if err := json.Unmarshal([]byte(examplesJSON), &p.Examples); err != nil {
			s.logger.Error("Failed to unmarshal saved examples",
				zap.String("pattern_id", p.ID), zap.Error(err))
			continue
		}
		if err := json.Unmarshal([]byte(rulesJSON), &p.RegexPatterns); err != nil {
			s.logger.Error("Failed to unmarshal saved rules",
				zap.String("pattern_id", p.ID), zap.Error(err))
			continue
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read saved patterns: %w", err)
	}
	return out, nil
}

// ImportExample appends one labeled example to a saved pattern, creating the
// saved pattern row if needed. Used by the bulk importer.
func (s *Store) ImportExample(ctx context.Context, sessionID, patternID, label string, category pattern.Category, example string) error {
	var examplesJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT examples_json FROM saved_patterns WHERE session_id = $1 AND pattern_id = $2`,
		sessionID, patternID).Scan(&examplesJSON)

	switch {
	case err == sql.ErrNoRows:
		examples, _ := json.Marshal([]string{example})
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO saved_patterns (session_id, pattern_id, label, category, examples_json)
			VALUES ($1, $2, $3, $4, $5)`,
			sessionID, patternID, label, string(category), string(examples))
		if err != nil {
			return fmt.Errorf("failed to insert imported pattern: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to load imported pattern: %w", err)
	}

	var examples []string
	if err := json.Unmarshal([]byte(examplesJSON), &examples); err != nil {
		return fmt.Errorf("corrupt examples for %s/%s: %w", sessionID, patternID, err)
	}
	for _, ex := range examples {
		if ex == example {
			return nil
		}
	}
	examples = append(examples, example)
	updated, _ := json.Marshal(examples)
	if _, err := s.db.ExecContext(ctx, `
		UPDATE saved_patterns SET examples_json = $1 WHERE session_id = $2 AND pattern_id = $3`,
		string(updated), sessionID, patternID); err != nil {
		return fmt.Errorf("failed to update imported pattern: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks credentials in a database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}

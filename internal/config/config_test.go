package config

import (
	"testing"

	"github.com/dataprep-studio/annotation-engine/internal/importer"
)

// TestGetDefaults tests that the default configuration is valid
func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("Default configuration is invalid: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Default port = %d", cfg.Server.Port)
	}
	if cfg.Feedback.Mode != "local" {
		t.Errorf("Default feedback mode = %s", cfg.Feedback.Mode)
	}
	// The importer section is the importer package's own config type, so
	// callers can hand it over without field-by-field copying.
	var importerCfg importer.Config = cfg.Importer
	if importerCfg.BatchSize != 1000 || !importerCfg.SkipInvalid {
		t.Errorf("Default importer config = %+v", importerCfg)
	}
}

// TestValidateConfig tests configuration validation
func TestValidateConfig(t *testing.T) {
	t.Run("InvalidPort", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Server.Port = 0
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected error for port 0")
		}
		cfg.Server.Port = 70000
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected error for port above range")
		}
	})

	t.Run("InvalidFeedbackMode", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Feedback.Mode = "sometimes"
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected error for unknown feedback mode")
		}
	})

	t.Run("FeedbackModeOff", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Feedback.Mode = "off"
		if err := validateConfig(cfg); err != nil {
			t.Errorf("Mode off should be valid: %v", err)
		}
	})

	t.Run("InvalidSimilarity", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Detection.MinSimilarity = 1.5
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected error for similarity above 1")
		}
		// Disabled detection is not validated
		cfg.Detection.Enabled = false
		if err := validateConfig(cfg); err != nil {
			t.Errorf("Disabled detection should skip similarity validation: %v", err)
		}
	})

	t.Run("InvalidLogging", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Logging.Level = "verbose"
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected error for unknown log level")
		}
		cfg = GetDefaults()
		cfg.Logging.Format = "xml"
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected error for unknown log format")
		}
	})
}

package importer

import (
	"time"
)

// ExampleRecord represents a single labeled example from the input dataset
type ExampleRecord struct {
	Example   string `csv:"example" parquet:"example" json:"example"`
	PatternID string `csv:"pattern_id" parquet:"pattern_id" json:"pattern_id"`
	Label     string `csv:"label" parquet:"label" json:"label"`
	Category  string `csv:"category" parquet:"category" json:"category"`
}

// Result represents the outcome of importing a dataset
type Result struct {
	TotalRecords int64         `json:"total_records"`
	Imported     int64         `json:"imported"`
	Skipped      int64         `json:"skipped"`
	Duplicates   int64         `json:"duplicates"`
	Duration     time.Duration `json:"duration"`
	Errors       []string      `json:"errors,omitempty"`
}

// Config contains importer configuration
type Config struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`           // 1000
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	SkipInvalid    bool `yaml:"skip_invalid" mapstructure:"skip_invalid"`       // true
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch {
	case len(filename) >= 4 && filename[len(filename)-4:] == ".csv":
		return FormatCSV
	case len(filename) >= 8 && filename[len(filename)-8:] == ".parquet":
		return FormatParquet
	case len(filename) >= 5 && filename[len(filename)-5:] == ".json":
		return FormatJSON
	default:
		return FormatCSV // Default to CSV
	}
}

package importer

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/dataprep-studio/annotation-engine/internal/feedback"
	"github.com/dataprep-studio/annotation-engine/internal/pattern"
)

// Importer loads labeled example datasets into the pattern store so that
// annotation sessions over a data source start with seeded patterns.
type Importer struct {
	store  *feedback.Store
	config *Config
	logger *zap.Logger

	dryRun bool
	seen   map[string]bool // text hashes imported this run
}

// New creates a new dataset importer
func New(store *feedback.Store, config *Config, logger *zap.Logger) *Importer {
	return &Importer{
		store:  store,
		config: config,
		logger: logger,
		seen:   make(map[string]bool),
	}
}

// ImportFile imports a dataset file (CSV, Parquet, or JSON) under the given
// data source key
func (im *Importer) ImportFile(ctx context.Context, dataSourceID, filePath string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	im.logger.Info("Starting dataset import",
		zap.String("file", filePath),
		zap.String("data_source", dataSourceID),
		zap.Int("batch_size", im.config.BatchSize))

	start := time.Now()
	result := &Result{}

	format := DetectFileFormat(filePath)
	im.logger.Info("Detected file format", zap.String("format", string(format)))

	var err error
	switch format {
	case FormatCSV:
		err = im.importCSV(ctx, dataSourceID, filePath, result)
	case FormatParquet:
		err = im.importParquet(ctx, dataSourceID, filePath, result)
	case FormatJSON:
		err = im.importJSON(ctx, dataSourceID, filePath, result)
	default:
		return result, fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return result, fmt.Errorf("%s import failed: %w", format, err)
	}

	result.Duration = time.Since(start)

	im.logger.Info("Dataset import completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("imported", result.Imported),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("duplicates", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// ValidateFile reads a dataset and reports what an import would do without
// writing anything to the store
func (im *Importer) ValidateFile(ctx context.Context, filePath string) (*Result, error) {
	im.dryRun = true
	defer func() { im.dryRun = false }()
	return im.ImportFile(ctx, "validate", filePath)
}

// importCSV imports CSV files with an example,pattern_id,label,category header
func (im *Importer) importCSV(ctx context.Context, dataSourceID, filePath string, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 4 // example, pattern_id, label, category

	// Read header
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	im.logger.Info("CSV header detected", zap.Strings("columns", header))

	return im.importBatches(ctx, dataSourceID, func() ([]*ExampleRecord, error) {
		var batch []*ExampleRecord
		for len(batch) < im.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				im.logger.Warn("Failed to read CSV record", zap.Error(err))
				continue
			}
			if len(record) != 4 {
				im.logger.Warn("Invalid CSV record length", zap.Int("length", len(record)))
				continue
			}
			batch = append(batch, &ExampleRecord{
				Example:   strings.TrimSpace(record[0]),
				PatternID: strings.TrimSpace(record[1]),
				Label:     strings.TrimSpace(record[2]),
				Category:  strings.TrimSpace(record[3]),
			})
		}
		return batch, nil
	}, result)
}

// importParquet imports Parquet files
func (im *Importer) importParquet(ctx context.Context, dataSourceID, filePath string, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return im.importBatches(ctx, dataSourceID, func() ([]*ExampleRecord, error) {
		var batch []*ExampleRecord
		for len(batch) < im.config.BatchSize {
			var record ExampleRecord
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				im.logger.Warn("Failed to read Parquet record", zap.Error(err))
				continue
			}
			batch = append(batch, &record)
		}
		return batch, nil
	}, result)
}

// importJSON imports JSON files (one JSON object per line)
func (im *Importer) importJSON(ctx context.Context, dataSourceID, filePath string, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return im.importBatches(ctx, dataSourceID, func() ([]*ExampleRecord, error) {
		var batch []*ExampleRecord
		for len(batch) < im.config.BatchSize {
			var record ExampleRecord
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				im.logger.Warn("Failed to read JSON record", zap.Error(err))
				continue
			}
			batch = append(batch, &record)
		}
		return batch, nil
	}, result)
}

// importBatches reads and stores records in batches using the provided reader
func (im *Importer) importBatches(ctx context.Context, dataSourceID string, readBatch func() ([]*ExampleRecord, error), result *Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break // End of file
		}

		for _, record := range batch {
			result.TotalRecords++

			if !im.validateRecord(record) {
				result.Skipped++
				continue
			}

			hash := computeTextHash(record.PatternID + "\x00" + record.Example)
			if im.seen[hash] {
				result.Duplicates++
				continue
			}

			if !im.dryRun {
				err := im.store.ImportExample(ctx, dataSourceID, record.PatternID,
					record.Label, pattern.Category(record.Category), record.Example)
				if err != nil {
					im.logger.Warn("Failed to import example",
						zap.String("pattern_id", record.PatternID), zap.Error(err))
					result.Skipped++
					result.Errors = append(result.Errors, err.Error())
					continue
				}
			}

			im.seen[hash] = true
			result.Imported++

			if result.TotalRecords%int64(im.config.ProgressReport) == 0 {
				im.reportProgress(result)
			}
		}
	}

	return nil
}

// validateRecord validates an example record
func (im *Importer) validateRecord(record *ExampleRecord) bool {
	if !im.config.SkipInvalid {
		return true
	}

	if record.Example == "" {
		im.logger.Debug("Invalid record: empty example")
		return false
	}
	if record.PatternID == "" || record.Label == "" {
		im.logger.Debug("Invalid record: missing pattern id or label")
		return false
	}
	if len(record.Example) > 10000 {
		im.logger.Debug("Invalid record: example too long", zap.Int("length", len(record.Example)))
		return false
	}
	return true
}

// reportProgress reports current import progress
func (im *Importer) reportProgress(result *Result) {
	im.logger.Info("Import progress",
		zap.Int64("records_read", result.TotalRecords),
		zap.Int64("imported", result.Imported),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("duplicates", result.Duplicates))
}

// computeTextHash computes SHA-256 hash of the given text
func computeTextHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

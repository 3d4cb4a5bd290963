package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dataprep-studio/annotation-engine/internal/config"
	"github.com/dataprep-studio/annotation-engine/internal/feedback"
	"github.com/dataprep-studio/annotation-engine/internal/importer"
	"github.com/dataprep-studio/annotation-engine/internal/logger"
)

func main() {
	var (
		configPath   = flag.String("config", "configs/default.yaml", "Configuration file path")
		inputFile    = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON)")
		dataSource   = flag.String("data-source", "", "Data source ID to import examples under")
		batchSize    = flag.Int("batch-size", 0, "Batch size override")
		validateOnly = flag.Bool("validate-only", false, "Only validate data, don't write to the store")
	)
	flag.Parse()

	if *inputFile == "" || *dataSource == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s --input dataset.csv --data-source my-dataset [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input examples.csv --data-source customers-2024\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input examples.parquet --data-source customers-2024 --batch-size 500\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting dataset importer",
		zap.String("config", *configPath),
		zap.String("input", *inputFile),
		zap.String("data_source", *dataSource))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling import...")
		cancel()
	}()

	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		log.Fatal("Input file does not exist", zap.String("file", *inputFile))
	}

	if *validateOnly {
		log.Info("Validate-only mode, no records will be written")
	}

	// Open the pattern store
	store, err := feedback.NewStore(&cfg.Feedback.Database, log.WithComponent("feedback").Logger)
	if err != nil {
		log.Fatal("Failed to open feedback store", zap.Error(err))
	}
	defer store.Close()

	importerConfig := cfg.Importer
	if *batchSize > 0 {
		importerConfig.BatchSize = *batchSize
	}

	var result *importer.Result
	imp := importer.New(store, &importerConfig, log.WithComponent("importer").Logger)
	if *validateOnly {
		result, err = imp.ValidateFile(ctx, *inputFile)
	} else {
		result, err = imp.ImportFile(ctx, *dataSource, *inputFile)
	}
	if err != nil {
		log.Fatal("Import failed", zap.Error(err))
	}

	log.Info("Import completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("imported", result.Imported),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("duplicates", result.Duplicates),
		zap.Duration("duration", result.Duration))

	if len(result.Errors) > 0 {
		log.Warn("Import completed with errors", zap.Strings("errors", result.Errors))
	}
}

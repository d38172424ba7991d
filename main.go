package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"olx-car-pipeline/config"
	"olx-car-pipeline/models"
	"olx-car-pipeline/scraper/olx"
	"olx-car-pipeline/services"
	"olx-car-pipeline/storage"
	"olx-car-pipeline/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLogger(utils.ParseLevel(cfg.LogLevel))

	logger.Info("=== OLX Car Pipeline starting ===")
	logger.Info("Config — pages: %d | concurrency: %d | rate: %dms | ref year: %d | state threshold: %d | top brands: %d",
		cfg.PagesToScrape, cfg.MaxConcurrency, cfg.RateLimitMs,
		cfg.ReferenceYear, cfg.StateMinCount, cfg.TopBrands)

	// Crawls stop between listings on SIGINT/SIGTERM; in-flight fetches
	// finish or time out, and no partial record is ever written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rawStore, err := storage.OpenRawStore(cfg.RawStorePath)
	if err != nil {
		logger.Error("Failed to open raw store: %v", err)
		os.Exit(1)
	}
	defer rawStore.Close()
	logger.Info("Raw store ready at %s (%d observations on disk)", cfg.RawStorePath, rawStore.Rows())

	crawler := olx.New(cfg, logger, rawStore)
	crawlStats, err := crawler.Crawl(ctx)
	if err != nil {
		logger.Error("Crawl failed: %v", err)
		if crawlStats == nil || crawlStats.Stored == 0 {
			os.Exit(1)
		}
		logger.Warn("Continuing with %d listings stored before the failure", crawlStats.Stored)
	}

	rawRows, err := rawStore.ReadAll()
	if err != nil {
		logger.Error("Failed to read raw snapshot: %v", err)
		os.Exit(1)
	}
	if len(rawRows) == 0 {
		logger.Error("Raw store is empty — nothing to process. Exiting.")
		os.Exit(1)
	}
	logger.Info("Raw snapshot: %d observations", len(rawRows))

	normalizer := services.NewNormalizer(cfg.ReferenceYear, cfg.YearFloor, logger)
	cleaned, normReport := normalizer.Normalize(rawRows)
	if len(cleaned) == 0 {
		logger.Error("All rows were rejected during normalization. Exiting.")
		os.Exit(1)
	}

	if err := storage.WriteCleanedCSV(cfg.CleanedCSVPath, cleaned); err != nil {
		logger.Error("Cleaned CSV write failed: %v", err)
	} else {
		logger.Info("Cleaned snapshot saved to %s", cfg.CleanedCSVPath)
	}

	pgWriter, err := storage.NewPostgresWriter(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer pgWriter.Close()

	if err := pgWriter.Write(cleaned); err != nil {
		logger.Error("PostgreSQL write failed: %v", err)
	} else {
		logger.Info("Cleaned snapshot stored in PostgreSQL (table: car_listings)")
	}

	// Feed the feature builder from the database when possible, so features
	// derive from the same rows the cleaned table holds.
	dbListings, err := pgWriter.FetchAll()
	if err != nil {
		logger.Warn("Falling back to in-memory cleaned set for features: %v", err)
		dbListings = cleaned
	} else if len(dbListings) == 0 {
		logger.Warn("PostgreSQL returned no rows; using the in-memory cleaned set for features")
		dbListings = cleaned
	}

	builder := services.NewFeatureBuilder(cfg.ReferenceYear, cfg.StateMinCount, cfg.TopBrands, logger)
	features, manifest, featReport := builder.Build(dbListings)

	if err := storage.WriteFeatureCSV(cfg.FeaturesCSVPath, features); err != nil {
		logger.Error("Feature table write failed: %v", err)
	} else {
		logger.Info("Feature table (schema %s) saved to %s", services.SchemaVersion, cfg.FeaturesCSVPath)
	}

	if err := storage.WriteManifest(cfg.ManifestPath, manifest); err != nil {
		logger.Error("Grouping manifest write failed: %v", err)
	} else {
		logger.Info("Grouping manifest saved to %s", cfg.ManifestPath)
	}

	summary := services.NewSummaryService(logger)
	summary.Print(crawlStats, []*models.StageReport{normReport, featReport}, cleaned, features)

	fmt.Printf("  Done. Raw → %s | Cleaned → %s + PostgreSQL | Features → %s\n\n",
		cfg.RawStorePath, cfg.CleanedCSVPath, cfg.FeaturesCSVPath)
}

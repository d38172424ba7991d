package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	PagesToScrape  int
	ForceRefetch   bool

	RawStorePath    string
	CleanedCSVPath  string
	FeaturesCSVPath string
	ManifestPath    string
	ChromeBin       string

	// Feature-stage constants. These are tuned per dataset snapshot and must
	// stay reproducible, so they live in config rather than code.
	ReferenceYear int
	YearFloor     int
	StateMinCount int
	TopBrands     int

	LogLevel string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "olx_cars_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		PagesToScrape:  getEnvInt("PAGES_TO_SCRAPE", 5),
		ForceRefetch:   getEnvBool("FORCE_REFETCH", false),

		RawStorePath:    getEnv("RAW_STORE_PATH", "./data/raw/olx_cars.csv"),
		CleanedCSVPath:  getEnv("CLEANED_CSV_PATH", "./data/processed/olx_cars_cleaned.csv"),
		FeaturesCSVPath: getEnv("FEATURES_CSV_PATH", "./data/features/olx_cars_features.csv"),
		ManifestPath:    getEnv("MANIFEST_PATH", "./data/features/grouping_manifest.json"),
		ChromeBin:       getEnv("CHROME_BIN", ""),

		ReferenceYear: getEnvInt("REFERENCE_YEAR", time.Now().Year()),
		YearFloor:     getEnvInt("YEAR_FLOOR", 1980),
		StateMinCount: getEnvInt("STATE_MIN_COUNT", 50),
		TopBrands:     getEnvInt("TOP_BRANDS", 20),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

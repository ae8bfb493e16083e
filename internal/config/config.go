package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/usgs"
	"github.com/couchcryptid/quake-data-etl/internal/geo"
)

const (
	defaultBatchSize = 1000
	maxBatchSize     = 10000
)

// ErrDatabaseURLRequired is returned by RequireDatabase when DATABASE_URL is unset.
var ErrDatabaseURLRequired = errors.New("DATABASE_URL is required")

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL string
	DBSchema    string
	DBTable     string
	BatchSize   int

	BoundariesPath       string
	BoundaryCodeProperty string
	RawDir               string
	ProcessedDir         string

	// USGS feed configuration.
	USGSBaseURL     string
	USGSTimeout     time.Duration
	FetchWindowDays int

	// Kafka publishing is disabled when no brokers are configured.
	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	usgsTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("USGS_TIMEOUT", "30s"))
	if err != nil || usgsTimeout <= 0 {
		return nil, errors.New("invalid USGS_TIMEOUT")
	}

	batchSize, err := parsePositiveInt("BATCH_SIZE", defaultBatchSize, maxBatchSize)
	if err != nil {
		return nil, err
	}

	windowDays, err := parsePositiveInt("FETCH_WINDOW_DAYS", 7, 366)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBSchema:    sharedcfg.EnvOrDefault("DB_SCHEMA", "public"),
		DBTable:     sharedcfg.EnvOrDefault("DB_TABLE", "usgs_earthquake_data"),
		BatchSize:   batchSize,

		BoundariesPath:       sharedcfg.EnvOrDefault("BOUNDARIES_PATH", "./data/reference/countries.geojson"),
		BoundaryCodeProperty: sharedcfg.EnvOrDefault("BOUNDARY_CODE_PROPERTY", geo.DefaultCodeProperty),
		RawDir:               sharedcfg.EnvOrDefault("RAW_DIR", "./data/raw"),
		ProcessedDir:         sharedcfg.EnvOrDefault("PROCESSED_DIR", "./data/processed"),

		USGSBaseURL:     sharedcfg.EnvOrDefault("USGS_BASE_URL", usgs.DefaultBaseURL),
		USGSTimeout:     usgsTimeout,
		FetchWindowDays: windowDays,

		KafkaBrokers: parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "enriched-earthquakes"),

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "text"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.DBTable == "" {
		return nil, errors.New("DB_TABLE must not be empty")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// RequireDatabase reports whether the settings needed to load into Postgres are present.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	return nil
}

// KafkaEnabled reports whether enriched records should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	return sharedcfg.ParseBrokers(s)
}

func parsePositiveInt(key string, def, maxVal int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > maxVal {
		return 0, fmt.Errorf("invalid %s %q: must be between 1 and %d", key, s, maxVal)
	}
	return n, nil
}

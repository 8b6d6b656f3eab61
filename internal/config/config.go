package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all settings, populated from environment variables. CLI flags
// override individual fields after Load.
type Config struct {
	DataDir            string
	DatabasePath       string
	KeepDatabase       bool
	ParquetCompression string
	Concurrency        int
	BatchSize          int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Object storage source for input files.
	GCSBucket    string
	GCSPrefix    string
	GCSAnonymous bool

	// Optional publishing of joined rows.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Mapbox reverse geocoding for unnamed locations.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAPBOX_TIMEOUT", "5s"))
	if err != nil || mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	concurrency, err := parsePositiveInt("CONCURRENCY", 4, 64)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		DataDir:            sharedcfg.EnvOrDefault("DATA_DIR", "data"),
		DatabasePath:       os.Getenv("DATABASE_PATH"),
		KeepDatabase:       os.Getenv("KEEP_DATABASE") == "true",
		ParquetCompression: strings.ToUpper(sharedcfg.EnvOrDefault("PARQUET_COMPRESSION", "SNAPPY")),
		Concurrency:        concurrency,
		BatchSize:          batchSize,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		GCSBucket:    os.Getenv("GCS_BUCKET"),
		GCSPrefix:    os.Getenv("GCS_PREFIX"),
		GCSAnonymous: sharedcfg.EnvOrDefault("GCS_ANONYMOUS", "true") == "true",

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "joined-timeseries"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. It is re-run after flag overrides.
func (c *Config) Validate() error {
	switch c.ParquetCompression {
	case "SNAPPY", "GZIP", "NONE":
	default:
		return fmt.Errorf("invalid PARQUET_COMPRESSION %q", c.ParquetCompression)
	}
	if c.DataDir == "" {
		return errors.New("DATA_DIR is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if c.KafkaEnabled && c.KafkaTopic == "" {
		return errors.New("KAFKA_ENABLED is true but KAFKA_TOPIC is empty")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

func parsePositiveInt(key string, def, maxValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > maxValue {
		return 0, fmt.Errorf("invalid %s: must be between 1 and %d", key, maxValue)
	}
	return n, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

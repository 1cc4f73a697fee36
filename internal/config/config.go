package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the serving gateway.
type Config struct {
	HTTPPort  string
	JWTSecret []byte

	Registry  RegistryConfig
	Cache     CacheConfig
	Drift     DriftConfig
	Artifacts ArtifactConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Events    EventsConfig

	ManifestPath string
	// UncertainLabel is substituted for the raw prediction whenever
	// confidence falls below a model's threshold.
	UncertainLabel string
	// DefaultConfidenceThreshold applies to manifest entries that do not
	// set their own threshold.
	DefaultConfidenceThreshold float64
}

// RegistryConfig holds version registry settings
type RegistryConfig struct {
	StateDir     string
	HistoryDepth int
}

// CacheConfig holds model cache settings
type CacheConfig struct {
	LoadTimeout   time.Duration
	RetryCooldown time.Duration
	PreloadActive bool
}

// DriftConfig holds drift detection settings
type DriftConfig struct {
	Enabled    bool
	WindowSize int
	Threshold  float64
}

// ArtifactConfig holds artifact storage settings
type ArtifactConfig struct {
	Dir      string
	S3Bucket string
	S3Region string
	S3Prefix string
}

// DatabaseConfig holds database connection settings. An empty URL selects
// the file-backed store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings. An empty address selects the
// in-memory event queue.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// EventsConfig holds event queue settings
type EventsConfig struct {
	QueueSize    int
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	manifestPath := getEnvString("MODEL_MANIFEST", "models.yaml")
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, fmt.Errorf("model manifest %s: %w", manifestPath, err)
	}

	cfg := &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "8080"),
		JWTSecret: []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		Registry: RegistryConfig{
			StateDir:     getEnvString("REGISTRY_STATE_DIR", "state"),
			HistoryDepth: getEnvInt("REGISTRY_HISTORY_DEPTH", 5),
		},
		Cache: CacheConfig{
			LoadTimeout:   getEnvDuration("CACHE_LOAD_TIMEOUT", 30*time.Second),
			RetryCooldown: getEnvDuration("CACHE_RETRY_COOLDOWN", 5*time.Second),
			PreloadActive: getEnvBool("CACHE_PRELOAD_ACTIVE", false),
		},
		Drift: DriftConfig{
			Enabled:    getEnvBool("DRIFT_DETECTION_ENABLED", true),
			WindowSize: getEnvInt("DRIFT_WINDOW_SIZE", 100),
			Threshold:  getEnvFloat("DRIFT_THRESHOLD", 0.2),
		},
		Artifacts: ArtifactConfig{
			Dir:      getEnvString("ARTIFACT_DIR", "artifacts"),
			S3Bucket: getEnvString("ARTIFACT_S3_BUCKET", ""),
			S3Region: getEnvString("ARTIFACT_S3_REGION", "us-east-1"),
			S3Prefix: getEnvString("ARTIFACT_S3_PREFIX", "models/"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Events: EventsConfig{
			QueueSize:    getEnvInt("EVENTS_QUEUE_SIZE", 1000),
			BatchSize:    getEnvInt("EVENTS_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("EVENTS_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("EVENTS_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("EVENTS_RETRY_BACKOFF", 1*time.Second),
		},
		ManifestPath:               manifestPath,
		UncertainLabel:             getEnvString("UNCERTAIN_LABEL", "Uncertain - please consult a specialist"),
		DefaultConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.75),
	}

	return cfg, nil
}

// Package config loads env-driven configuration for the API and worker
// binaries. Components receive these objects at construction; nothing
// reads the environment ad hoc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIConfig configures the advisor-api binary.
type APIConfig struct {
	Addr           string
	DatabaseURL    string
	KafkaBrokers   []string
	TasksTopic     string
	S3Bucket       string
	S3Prefix       string
	AuthSecret     string
	MaxUploadBytes int64
}

// WorkerConfig configures the advisor-worker binary.
type WorkerConfig struct {
	DatabaseURL      string
	KafkaBrokers     []string
	TasksTopic       string
	ConsumerGroup    string
	S3Bucket         string
	S3Prefix         string
	BatchSize        int
	MaxRetries       int
	RetryBaseDelay   time.Duration
	DefaultTermYears int
}

const (
	defaultAddr           = ":8080"
	defaultTasksTopic     = "advisor.report-tasks"
	defaultConsumerGroup  = "advisor-workers"
	defaultMaxUploadBytes = 20 << 20
	defaultBatchSize      = 500
	defaultMaxRetries     = 5
	defaultRetryBaseDelay = 2 * time.Second
	defaultTermYears      = 3
)

func LoadAPI() (APIConfig, error) {
	cfg := APIConfig{
		Addr:           getEnv("ADVISOR_API_ADDR", defaultAddr),
		DatabaseURL:    firstNonEmpty(os.Getenv("ADVISOR_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:   splitList(getEnv("ADVISOR_KAFKA_BROKERS", "localhost:9092")),
		TasksTopic:     getEnv("ADVISOR_TASKS_TOPIC", defaultTasksTopic),
		S3Bucket:       os.Getenv("ADVISOR_S3_BUCKET"),
		S3Prefix:       os.Getenv("ADVISOR_S3_PREFIX"),
		AuthSecret:     os.Getenv("ADVISOR_AUTH_SECRET"),
		MaxUploadBytes: getInt64("ADVISOR_MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
	}
	if cfg.DatabaseURL == "" {
		return APIConfig{}, fmt.Errorf("DATABASE_URL or ADVISOR_DATABASE_URL required")
	}
	if cfg.S3Bucket == "" {
		return APIConfig{}, fmt.Errorf("ADVISOR_S3_BUCKET required")
	}
	return cfg, nil
}

func LoadWorker() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:      firstNonEmpty(os.Getenv("ADVISOR_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:     splitList(getEnv("ADVISOR_KAFKA_BROKERS", "localhost:9092")),
		TasksTopic:       getEnv("ADVISOR_TASKS_TOPIC", defaultTasksTopic),
		ConsumerGroup:    getEnv("ADVISOR_CONSUMER_GROUP", defaultConsumerGroup),
		S3Bucket:         os.Getenv("ADVISOR_S3_BUCKET"),
		S3Prefix:         os.Getenv("ADVISOR_S3_PREFIX"),
		BatchSize:        getInt("ADVISOR_BATCH_SIZE", defaultBatchSize),
		MaxRetries:       getInt("ADVISOR_MAX_RETRIES", defaultMaxRetries),
		RetryBaseDelay:   getDuration("ADVISOR_RETRY_BASE_DELAY", defaultRetryBaseDelay),
		DefaultTermYears: getInt("ADVISOR_DEFAULT_TERM_YEARS", defaultTermYears),
	}
	if cfg.DatabaseURL == "" {
		return WorkerConfig{}, fmt.Errorf("DATABASE_URL or ADVISOR_DATABASE_URL required")
	}
	if cfg.S3Bucket == "" {
		return WorkerConfig{}, fmt.Errorf("ADVISOR_S3_BUCKET required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	DatabaseURL     string
	Port            string
	LogLevel        string
	ShutdownTimeout time.Duration

	Import ImportConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
}

type ImportConfig struct {
	BaseDir            string
	SpoolDir           string
	MaxSpoolBytes      int64
	DefaultBatchSize   int
	MaxBatchSize       int
	MaxInFlightBatches int
	ReadBatchRows      int64
	CheckpointEvery    int64
	JobTimeout         time.Duration
	LeaseDuration      time.Duration
	HeartbeatInterval  time.Duration
	RecoveryInterval   time.Duration

	BatchTimeout           time.Duration
	IOWorkers              int
	WriteMaxAttempts       int
	WriteInitialBackoff    time.Duration
	WriteBackoffMultiplier float64
	WriteMaxBackoff        time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	StatusTopic   string
	RequestTopic  string
	ConsumerGroup string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("IMPORT_SHUTDOWN_TIMEOUT", 30*time.Second)

	v.SetDefault("IMPORT_BASE_DIR", ".")
	v.SetDefault("IMPORT_SPOOL_DIR", "")
	v.SetDefault("IMPORT_MAX_SPOOL_BYTES", int64(8<<30))
	v.SetDefault("IMPORT_DEFAULT_BATCH_SIZE", 10_000)
	v.SetDefault("IMPORT_MAX_BATCH_SIZE", 50_000)
	v.SetDefault("IMPORT_MAX_IN_FLIGHT_BATCHES", 2)
	v.SetDefault("IMPORT_READ_BATCH_ROWS", 1024)
	v.SetDefault("IMPORT_CHECKPOINT_EVERY", 1_000_000)
	v.SetDefault("IMPORT_JOB_TIMEOUT", 30*time.Minute)
	v.SetDefault("IMPORT_LEASE_DURATION", 60*time.Second)
	v.SetDefault("IMPORT_HEARTBEAT_INTERVAL", 20*time.Second)
	v.SetDefault("IMPORT_RECOVERY_INTERVAL", time.Minute)

	v.SetDefault("IMPORT_BATCH_TIMEOUT", 60*time.Second)
	v.SetDefault("IMPORT_IO_WORKERS", 4)
	v.SetDefault("IMPORT_WRITE_MAX_ATTEMPTS", 3)
	v.SetDefault("IMPORT_WRITE_INITIAL_BACKOFF", 200*time.Millisecond)
	v.SetDefault("IMPORT_WRITE_BACKOFF_MULTIPLIER", 2.0)
	v.SetDefault("IMPORT_WRITE_MAX_BACKOFF", 5*time.Second)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("SUGGESTION_CACHE_TTL", 5*time.Minute)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_STATUS_TOPIC", "match-import.status")
	v.SetDefault("KAFKA_REQUEST_TOPIC", "match-import.requests")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "match-suggestion-importer")
}

// Load reads the process environment.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper builds a Config from v after applying defaults.
func FromViper(v *viper.Viper) (Config, error) {
	setDefaults(v)

	cfg := Config{
		DatabaseURL:     strings.TrimSpace(v.GetString("DATABASE_URL")),
		Port:            v.GetString("PORT"),
		LogLevel:        strings.ToLower(v.GetString("LOG_LEVEL")),
		ShutdownTimeout: v.GetDuration("IMPORT_SHUTDOWN_TIMEOUT"),
		Import: ImportConfig{
			BaseDir:                v.GetString("IMPORT_BASE_DIR"),
			SpoolDir:               v.GetString("IMPORT_SPOOL_DIR"),
			MaxSpoolBytes:          v.GetInt64("IMPORT_MAX_SPOOL_BYTES"),
			DefaultBatchSize:       v.GetInt("IMPORT_DEFAULT_BATCH_SIZE"),
			MaxBatchSize:           v.GetInt("IMPORT_MAX_BATCH_SIZE"),
			MaxInFlightBatches:     v.GetInt("IMPORT_MAX_IN_FLIGHT_BATCHES"),
			ReadBatchRows:          v.GetInt64("IMPORT_READ_BATCH_ROWS"),
			CheckpointEvery:        v.GetInt64("IMPORT_CHECKPOINT_EVERY"),
			JobTimeout:             v.GetDuration("IMPORT_JOB_TIMEOUT"),
			LeaseDuration:          v.GetDuration("IMPORT_LEASE_DURATION"),
			HeartbeatInterval:      v.GetDuration("IMPORT_HEARTBEAT_INTERVAL"),
			RecoveryInterval:       v.GetDuration("IMPORT_RECOVERY_INTERVAL"),
			BatchTimeout:           v.GetDuration("IMPORT_BATCH_TIMEOUT"),
			IOWorkers:              v.GetInt("IMPORT_IO_WORKERS"),
			WriteMaxAttempts:       v.GetInt("IMPORT_WRITE_MAX_ATTEMPTS"),
			WriteInitialBackoff:    v.GetDuration("IMPORT_WRITE_INITIAL_BACKOFF"),
			WriteBackoffMultiplier: v.GetFloat64("IMPORT_WRITE_BACKOFF_MULTIPLIER"),
			WriteMaxBackoff:        v.GetDuration("IMPORT_WRITE_MAX_BACKOFF"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
			Password: v.GetString("REDIS_PASSWORD"),
			TTL:      v.GetDuration("SUGGESTION_CACHE_TTL"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(v.GetString("KAFKA_BROKERS")),
			StatusTopic:   v.GetString("KAFKA_STATUS_TOPIC"),
			RequestTopic:  v.GetString("KAFKA_REQUEST_TOPIC"),
			ConsumerGroup: v.GetString("KAFKA_CONSUMER_GROUP"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"IMPORT_MAX_SPOOL_BYTES", c.Import.MaxSpoolBytes},
		{"IMPORT_DEFAULT_BATCH_SIZE", int64(c.Import.DefaultBatchSize)},
		{"IMPORT_MAX_BATCH_SIZE", int64(c.Import.MaxBatchSize)},
		{"IMPORT_MAX_IN_FLIGHT_BATCHES", int64(c.Import.MaxInFlightBatches)},
		{"IMPORT_READ_BATCH_ROWS", c.Import.ReadBatchRows},
		{"IMPORT_CHECKPOINT_EVERY", c.Import.CheckpointEvery},
		{"IMPORT_JOB_TIMEOUT", int64(c.Import.JobTimeout)},
		{"IMPORT_LEASE_DURATION", int64(c.Import.LeaseDuration)},
		{"IMPORT_HEARTBEAT_INTERVAL", int64(c.Import.HeartbeatInterval)},
		{"IMPORT_RECOVERY_INTERVAL", int64(c.Import.RecoveryInterval)},
		{"IMPORT_BATCH_TIMEOUT", int64(c.Import.BatchTimeout)},
		{"IMPORT_IO_WORKERS", int64(c.Import.IOWorkers)},
		{"IMPORT_WRITE_MAX_ATTEMPTS", int64(c.Import.WriteMaxAttempts)},
		{"IMPORT_WRITE_INITIAL_BACKOFF", int64(c.Import.WriteInitialBackoff)},
		{"IMPORT_WRITE_MAX_BACKOFF", int64(c.Import.WriteMaxBackoff)},
		{"IMPORT_SHUTDOWN_TIMEOUT", int64(c.ShutdownTimeout)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			problems = append(problems, p.name+" must be positive")
		}
	}
	if c.Import.DefaultBatchSize > c.Import.MaxBatchSize {
		problems = append(problems, "IMPORT_DEFAULT_BATCH_SIZE exceeds IMPORT_MAX_BATCH_SIZE")
	}
	if c.Import.HeartbeatInterval >= c.Import.LeaseDuration {
		problems = append(problems, "IMPORT_HEARTBEAT_INTERVAL must be shorter than IMPORT_LEASE_DURATION")
	}
	if c.Import.WriteBackoffMultiplier < 1 {
		problems = append(problems, "IMPORT_WRITE_BACKOFF_MULTIPLIER must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

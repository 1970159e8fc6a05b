package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mohammadpnp/suggestion-import/internal/config"
	"github.com/spf13/viper"
)

func TestFromViperDefaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("DATABASE_URL", "postgres://localhost/db")

	cfg, err := config.FromViper(v)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := config.ImportConfig{
		BaseDir:                ".",
		MaxSpoolBytes:          8 << 30,
		DefaultBatchSize:       10_000,
		MaxBatchSize:           50_000,
		MaxInFlightBatches:     2,
		ReadBatchRows:          1024,
		CheckpointEvery:        1_000_000,
		JobTimeout:             30 * time.Minute,
		LeaseDuration:          60 * time.Second,
		HeartbeatInterval:      20 * time.Second,
		RecoveryInterval:       time.Minute,
		BatchTimeout:           60 * time.Second,
		IOWorkers:              4,
		WriteMaxAttempts:       3,
		WriteInitialBackoff:    200 * time.Millisecond,
		WriteBackoffMultiplier: 2,
		WriteMaxBackoff:        5 * time.Second,
	}
	if diff := cmp.Diff(want, cfg.Import); diff != "" {
		t.Fatalf("unexpected import config (-want +got):\n%s", diff)
	}
	if cfg.Port != "8080" || cfg.Kafka.StatusTopic != "match-import.status" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Fatalf("expected no brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db")
	t.Setenv("IMPORT_MAX_BATCH_SIZE", "500")
	t.Setenv("IMPORT_DEFAULT_BATCH_SIZE", "100")
	t.Setenv("IMPORT_JOB_TIMEOUT", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Import.MaxBatchSize != 500 || cfg.Import.DefaultBatchSize != 100 {
		t.Fatalf("unexpected batch sizes: %+v", cfg.Import)
	}
	if cfg.Import.JobTimeout != 90*time.Second {
		t.Fatalf("unexpected job timeout: %v", cfg.Import.JobTimeout)
	}
	if diff := cmp.Diff([]string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers); diff != "" {
		t.Fatalf("unexpected brokers (-want +got):\n%s", diff)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		set  map[string]any
		want string
	}{
		"missing database": {
			set:  map[string]any{},
			want: "DATABASE_URL is required",
		},
		"zero batch size": {
			set:  map[string]any{"DATABASE_URL": "x", "IMPORT_MAX_BATCH_SIZE": 0},
			want: "IMPORT_MAX_BATCH_SIZE must be positive",
		},
		"negative in flight": {
			set:  map[string]any{"DATABASE_URL": "x", "IMPORT_MAX_IN_FLIGHT_BATCHES": -1},
			want: "IMPORT_MAX_IN_FLIGHT_BATCHES must be positive",
		},
		"default above max": {
			set:  map[string]any{"DATABASE_URL": "x", "IMPORT_DEFAULT_BATCH_SIZE": 10, "IMPORT_MAX_BATCH_SIZE": 5},
			want: "exceeds IMPORT_MAX_BATCH_SIZE",
		},
		"heartbeat not shorter than lease": {
			set:  map[string]any{"DATABASE_URL": "x", "IMPORT_LEASE_DURATION": "30s", "IMPORT_HEARTBEAT_INTERVAL": "30s"},
			want: "IMPORT_HEARTBEAT_INTERVAL must be shorter than IMPORT_LEASE_DURATION",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			v := viper.New()
			for k, val := range tc.set {
				v.Set(k, val)
			}
			_, err := config.FromViper(v)
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

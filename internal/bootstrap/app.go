// Package bootstrap assembles the importer from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	app "github.com/mohammadpnp/suggestion-import/internal/application/suggestion"
	"github.com/mohammadpnp/suggestion-import/internal/config"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/cache"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/columnar"
	infrafile "github.com/mohammadpnp/suggestion-import/internal/infrastructure/file"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/messaging"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/metrics"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/repository"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type statusPublisher interface {
	domain.StatusPublisher
	io.Closer
}

// App owns every long-lived component and shuts them down in dependency
// order.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	db        *gorm.DB
	cache     *cache.Redis
	writer    *repository.SuggestionBulkWriter
	publisher statusPublisher
	orch      *app.Orchestrator
	consumer  *messaging.ImportRequestConsumer
	server    *echo.Echo
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	m, err := metrics.New()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	redisCache := cache.NewRedis(ctx, cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		TTL:      cfg.Redis.TTL,
		Logger:   logger,
	})

	writer := repository.NewSuggestionBulkWriter(repository.NewPostgresSuggestionStore(pool), redisCache, m, repository.WriterConfig{
		IOWorkers:         cfg.Import.IOWorkers,
		MaxAttempts:       cfg.Import.WriteMaxAttempts,
		InitialBackoff:    cfg.Import.WriteInitialBackoff,
		BackoffMultiplier: cfg.Import.WriteBackoffMultiplier,
		MaxBackoff:        cfg.Import.WriteMaxBackoff,
		BatchTimeout:      cfg.Import.BatchTimeout,
		Logger:            logger,
	})

	var publisher statusPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = messaging.NewKafkaStatusPublisher(messaging.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.StatusTopic), logger)
	} else {
		logger.Info("no kafka brokers configured, status events go to the log")
		publisher = messaging.NewLogPublisher(logger)
	}

	parser := columnar.NewParser[domain.MatchSuggestion](domain.NewSuggestionFactory(), columnar.Options{
		SpoolDir:        cfg.Import.SpoolDir,
		MaxSpoolBytes:   cfg.Import.MaxSpoolBytes,
		ReadBatchRows:   cfg.Import.ReadBatchRows,
		CheckpointEvery: cfg.Import.CheckpointEvery,
		Logger:          logger,
	})

	jobs := repository.NewImportJobRepository(db)
	orch := app.NewOrchestrator(jobs, writer, parser, publisher, infrafile.NewLocalSource(cfg.Import.BaseDir), m, app.OrchestratorConfig{
		DefaultBatchSize:   cfg.Import.DefaultBatchSize,
		MaxBatchSize:       cfg.Import.MaxBatchSize,
		MaxInFlightBatches: cfg.Import.MaxInFlightBatches,
		JobTimeout:         cfg.Import.JobTimeout,
		LeaseDuration:      cfg.Import.LeaseDuration,
		HeartbeatInterval:  cfg.Import.HeartbeatInterval,
		RecoveryInterval:   cfg.Import.RecoveryInterval,
		Logger:             logger,
	})

	a := &App{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		cache:     redisCache,
		writer:    writer,
		publisher: publisher,
		orch:      orch,
		server: NewHTTPServer(HTTPDeps{
			StartImport:     app.NewStartImport(orch),
			GetImportJob:    app.NewGetImportJob(jobs),
			FindSuggestions: app.NewFindSuggestions(writer),
			Metrics:         m.Handler(),
		}),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		reader := messaging.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.RequestTopic, cfg.Kafka.ConsumerGroup)
		a.consumer = messaging.NewImportRequestConsumer(reader, SubmitRequest(orch), logger)
	}
	return a, nil
}

type submitter interface {
	Submit(ctx context.Context, in app.SubmitInput) (app.Submission, error)
}

// SubmitRequest adapts the orchestrator to the Kafka consumer. A redelivered
// request for a job that already ran is committed and dropped.
func SubmitRequest(s submitter) messaging.RequestHandler {
	return func(ctx context.Context, req messaging.ImportRequest) error {
		_, err := s.Submit(ctx, app.SubmitInput{
			JobID:      req.JobID,
			SourcePath: req.SourcePath,
			GroupID:    req.GroupID,
			BatchSize:  req.BatchSize,
		})
		if errors.Is(err, app.ErrDuplicateImport) {
			return nil
		}
		return err
	}
}

// Run serves HTTP, sweeps abandoned jobs and consumes import requests until
// ctx is cancelled or a component stops with an error.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go a.orch.RunRecovery(ctx)

	go func() {
		a.logger.Info("http server listening", slog.String("port", a.cfg.Port))
		if err := a.server.Start(":" + a.cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if a.consumer != nil {
		go func() {
			a.logger.Info("import request consumer started", slog.String("topic", a.cfg.Kafka.RequestTopic))
			if err := a.consumer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("import request consumer: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops intake first, then drains running jobs and the writer. All
// steps share ctx's deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := a.orch.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain import jobs: %w", err))
	}
	if err := a.writer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain writer: %w", err))
	}
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := a.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return errors.Join(errs...)
}

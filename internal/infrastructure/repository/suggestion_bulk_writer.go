package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/cache"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/metrics"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/wire"
)

// SuggestionLoader is the storage side of the writer. LoadBatch receives a
// complete binary COPY stream.
type SuggestionLoader interface {
	LoadBatch(ctx context.Context, payload []byte) (int64, error)
	FindSuggestions(ctx context.Context, participantID, groupID string) ([]domain.MatchSuggestion, error)
	Close()
}

type SuggestionCache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

type WriterConfig struct {
	IOWorkers         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	BatchTimeout      time.Duration
	Logger            *slog.Logger
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.IOWorkers <= 0 {
		c.IOWorkers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 2
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type writeTask struct {
	ctx     context.Context
	payload []byte
	rows    int
	keys    []string
	done    chan writeResult
}

type writeResult struct {
	outcome domain.WriteOutcome
	err     error
}

var _ domain.BatchWriter = (*SuggestionBulkWriter)(nil)

// SuggestionBulkWriter serializes batches once and loads them on a fixed pool
// of I/O goroutines, retrying whole batches with exponential backoff.
type SuggestionBulkWriter struct {
	store   SuggestionLoader
	cache   SuggestionCache
	metrics *metrics.Pipeline
	cfg     WriterConfig
	logger  *slog.Logger

	tasks chan *writeTask
	quit  chan struct{}
	wg    sync.WaitGroup

	ioCtx    context.Context
	cancelIO context.CancelFunc

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewSuggestionBulkWriter starts the I/O workers. cache and m may be nil.
func NewSuggestionBulkWriter(store SuggestionLoader, c SuggestionCache, m *metrics.Pipeline, cfg WriterConfig) *SuggestionBulkWriter {
	cfg = cfg.withDefaults()
	ioCtx, cancel := context.WithCancel(context.Background())

	w := &SuggestionBulkWriter{
		store:    store,
		cache:    c,
		metrics:  m,
		cfg:      cfg,
		logger:   cfg.Logger,
		tasks:    make(chan *writeTask),
		quit:     make(chan struct{}),
		ioCtx:    ioCtx,
		cancelIO: cancel,
	}

	w.wg.Add(cfg.IOWorkers)
	for i := 0; i < cfg.IOWorkers; i++ {
		go w.worker()
	}
	return w
}

// Write stores batch durably. All suggestions must belong to groupID.
func (w *SuggestionBulkWriter) Write(ctx context.Context, batch []domain.MatchSuggestion, groupID string) (domain.WriteOutcome, error) {
	if w.shuttingDown.Load() {
		w.metrics.ObserveBatch(metrics.OutcomeRejected, len(batch), 0)
		return domain.WriteOutcome{}, domain.ErrUnavailable
	}
	if len(batch) == 0 {
		return domain.WriteOutcome{}, nil
	}

	keys := make([]string, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, s := range batch {
		if s.GroupID != groupID {
			return domain.WriteOutcome{}, fmt.Errorf("%w: suggestion for group %q in batch for group %q", domain.ErrInvalidSuggestion, s.GroupID, groupID)
		}
		if _, ok := seen[s.ParticipantID]; !ok {
			seen[s.ParticipantID] = struct{}{}
			keys = append(keys, cache.SuggestionKey(groupID, s.ParticipantID))
		}
	}

	task := &writeTask{
		ctx:     ctx,
		payload: wire.EncodeBatch(batch),
		rows:    len(batch),
		keys:    keys,
		done:    make(chan writeResult, 1),
	}

	select {
	case w.tasks <- task:
	case <-w.quit:
		w.metrics.ObserveBatch(metrics.OutcomeRejected, len(batch), 0)
		return domain.WriteOutcome{}, domain.ErrUnavailable
	case <-ctx.Done():
		return domain.WriteOutcome{}, ctx.Err()
	}

	select {
	case res := <-task.done:
		return res.outcome, res.err
	case <-ctx.Done():
		return domain.WriteOutcome{}, ctx.Err()
	}
}

func (w *SuggestionBulkWriter) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case t := <-w.tasks:
			t.done <- w.execute(t)
		}
	}
}

func (w *SuggestionBulkWriter) execute(t *writeTask) writeResult {
	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(w.ioCtx, cancel)
	defer stop()

	start := time.Now()
	attempts := 0
	var affected int64

	op := func() error {
		attempts++
		if attempts > 1 {
			w.metrics.IncRetry()
		}

		attemptCtx, cancelAttempt := context.WithTimeout(ctx, w.cfg.BatchTimeout)
		defer cancelAttempt()

		n, err := w.store.LoadBatch(attemptCtx, t.payload)
		if err == nil {
			affected = n
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		w.logger.Warn("bulk write attempt failed",
			slog.Int("attempt", attempts),
			slog.Int("rows", t.rows),
			slog.Any("error", err))
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), uint64(w.cfg.MaxAttempts-1)), ctx))
	outcome := domain.WriteOutcome{Rows: t.rows, Affected: affected, Attempts: attempts}
	if err != nil {
		w.metrics.ObserveBatch(metrics.OutcomeFailed, t.rows, time.Since(start))
		if w.ioCtx.Err() != nil {
			return writeResult{outcome: outcome, err: fmt.Errorf("%w: %v", domain.ErrUnavailable, err)}
		}
		return writeResult{outcome: outcome, err: fmt.Errorf("write batch of %d suggestions after %d attempts: %w", t.rows, attempts, err)}
	}

	w.metrics.ObserveBatch(metrics.OutcomeCommitted, t.rows, time.Since(start))
	w.invalidate(ctx, t.keys)
	return writeResult{outcome: outcome}
}

func (w *SuggestionBulkWriter) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.Multiplier = w.cfg.BackoffMultiplier
	b.MaxInterval = w.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return b
}

// retryable rejects errors that would fail identically on every attempt.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"), strings.HasPrefix(pgErr.Code, "42"):
			return false
		}
	}
	return true
}

func (w *SuggestionBulkWriter) invalidate(ctx context.Context, keys []string) {
	if w.cache == nil || len(keys) == 0 {
		return
	}
	if err := w.cache.Delete(ctx, keys...); err != nil {
		w.logger.Warn("invalidate suggestion cache failed", slog.Int("keys", len(keys)), slog.Any("error", err))
	}
}

// Find returns the stored suggestions of one participant, best first.
func (w *SuggestionBulkWriter) Find(ctx context.Context, participantID, groupID string) ([]domain.MatchSuggestion, error) {
	if w.shuttingDown.Load() {
		return nil, domain.ErrUnavailable
	}

	key := cache.SuggestionKey(groupID, participantID)
	if w.cache != nil {
		var cached []domain.MatchSuggestion
		hit, err := w.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			w.logger.Warn("read suggestion cache failed", slog.String("key", key), slog.Any("error", err))
		}
		if hit {
			return cached, nil
		}
	}

	out, err := w.store.FindSuggestions(ctx, participantID, groupID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.MatchSuggestion{}
	}

	if w.cache != nil {
		if err := w.cache.SetJSON(ctx, key, out); err != nil {
			w.logger.Warn("write suggestion cache failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return out, nil
}

// Shutdown stops accepting writes, lets running batches finish until ctx is
// done, then cancels in-flight I/O and closes the store. Later calls return
// the first call's result.
func (w *SuggestionBulkWriter) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() {
		w.shuttingDown.Store(true)
		close(w.quit)

		drained := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			w.logger.Warn("writer drain deadline reached, cancelling in-flight batches")
			w.shutdownErr = ctx.Err()
			w.cancelIO()
			<-drained
		}
		w.cancelIO()
		w.store.Close()
	})
	return w.shutdownErr
}

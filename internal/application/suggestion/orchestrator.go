package suggestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"golang.org/x/sync/errgroup"
)

type ImportSource interface {
	Open(ctx context.Context, sourcePath string) (io.ReadCloser, error)
}

type suggestionParser interface {
	Parse(ctx context.Context, src io.Reader, onRowError func(row int64, err error)) iter.Seq2[domain.MatchSuggestion, error]
}

type jobMetrics interface {
	InFlight(delta int)
	AddSkipped(rows int64)
	JobFinished(status string)
}

type noopMetrics struct{}

func (noopMetrics) InFlight(int)       {}
func (noopMetrics) AddSkipped(int64)   {}
func (noopMetrics) JobFinished(string) {}

type OrchestratorConfig struct {
	DefaultBatchSize   int
	MaxBatchSize       int
	MaxInFlightBatches int
	JobTimeout         time.Duration
	FinalizeTimeout    time.Duration
	LeaseDuration      time.Duration
	HeartbeatInterval  time.Duration
	RecoveryInterval   time.Duration
	Logger             *slog.Logger
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 50_000
	}
	if c.DefaultBatchSize <= 0 {
		c.DefaultBatchSize = 10_000
	}
	if c.DefaultBatchSize > c.MaxBatchSize {
		c.DefaultBatchSize = c.MaxBatchSize
	}
	if c.MaxInFlightBatches <= 0 {
		c.MaxInFlightBatches = 2
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 10 * time.Second
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 60 * time.Second
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LeaseDuration {
		c.HeartbeatInterval = c.LeaseDuration / 2
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = c.LeaseDuration
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ImportResult is the final state of one job as seen by the orchestrator.
// Err holds the cause of a FAILED job.
type ImportResult struct {
	JobID     string
	GroupID   string
	Status    domain.Status
	Processed int64
	Failed    int64
	Skipped   int64
	Total     int64
	Err       error
}

type SubmitInput struct {
	JobID      string
	SourcePath string
	GroupID    string
	BatchSize  int
}

// Submission is returned once a job is recorded as PENDING. Done receives
// the result when the job reaches a terminal status.
type Submission struct {
	JobID  string
	Status domain.Status
	Done   <-chan ImportResult
}

// Orchestrator drives imports: it streams a source through the parser,
// batches records, keeps a bounded number of batches in flight against the
// writer and reconciles the job's final status.
type Orchestrator struct {
	store     domain.JobStateStore
	writer    domain.BatchWriter
	parser    suggestionParser
	publisher domain.StatusPublisher
	source    ImportSource
	metrics   jobMetrics
	cfg       OrchestratorConfig
	logger    *slog.Logger

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu     sync.Mutex
	closed bool
	active map[string]struct{}
	jobs   sync.WaitGroup
}

// NewOrchestrator wires the pipeline. source is only needed by Submit and m
// may be nil.
func NewOrchestrator(
	store domain.JobStateStore,
	writer domain.BatchWriter,
	parser suggestionParser,
	publisher domain.StatusPublisher,
	source ImportSource,
	m jobMetrics,
	cfg OrchestratorConfig,
) *Orchestrator {
	cfg = cfg.withDefaults()
	if m == nil {
		m = noopMetrics{}
	}
	runCtx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		store:     store,
		writer:    writer,
		parser:    parser,
		publisher: publisher,
		source:    source,
		metrics:   m,
		cfg:       cfg,
		logger:    cfg.Logger,
		runCtx:    runCtx,
		cancelRun: cancel,
		active:    map[string]struct{}{},
	}
}

// BatchSize clamps a requested batch size to the configured bounds.
func (o *Orchestrator) BatchSize(requested int) int {
	switch {
	case requested <= 0:
		return o.cfg.DefaultBatchSize
	case requested > o.cfg.MaxBatchSize:
		return o.cfg.MaxBatchSize
	default:
		return requested
	}
}

// Submit validates the request, records the job as PENDING and processes it
// in the background.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) (Submission, error) {
	sourcePath := strings.TrimSpace(in.SourcePath)
	if sourcePath == "" || strings.ToLower(filepath.Ext(sourcePath)) != ".parquet" {
		return Submission{}, ErrInvalidImportSource
	}
	groupID := strings.TrimSpace(in.GroupID)
	if groupID == "" {
		return Submission{}, ErrInvalidGroupID
	}
	jobID := strings.TrimSpace(in.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	} else if _, err := uuid.Parse(jobID); err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrInvalidJobID, err)
	}
	batchSize := o.BatchSize(in.BatchSize)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Submission{}, domain.ErrUnavailable
	}
	if _, running := o.active[jobID]; running {
		o.mu.Unlock()
		return Submission{}, fmt.Errorf("%w: job %s is running", ErrDuplicateImport, jobID)
	}
	o.active[jobID] = struct{}{}
	o.jobs.Add(1)
	o.mu.Unlock()

	finish := func() {
		o.release(jobID)
		o.jobs.Done()
	}

	src, err := o.source.Open(ctx, sourcePath)
	if err != nil {
		finish()
		return Submission{}, fmt.Errorf("%w: %v", ErrInvalidImportSource, err)
	}
	if _, err := o.admit(ctx, jobID, groupID, sourcePath, batchSize); err != nil {
		_ = src.Close()
		finish()
		if errors.Is(err, ErrDuplicateImport) {
			o.logger.Info("duplicate import submission ignored", slog.String("job_id", jobID), slog.Any("reason", err))
			return Submission{}, err
		}
		return Submission{}, fmt.Errorf("%w: %v", ErrSubmitImport, err)
	}

	done := make(chan ImportResult, 1)
	go func() {
		defer finish()
		defer src.Close()
		done <- o.execute(o.runCtx, jobID, src, groupID, batchSize, nil)
		close(done)
	}()

	o.logger.Info("import job submitted",
		slog.String("job_id", jobID),
		slog.String("group_id", groupID),
		slog.String("source_path", sourcePath),
		slog.Int("batch_size", batchSize))

	return Submission{JobID: jobID, Status: domain.StatusPending, Done: done}, nil
}

// Shutdown rejects new submissions and waits for running jobs. When ctx ends
// first, running jobs are cancelled and still finalized before it returns.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		o.jobs.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		o.cancelRun()
		return nil
	case <-ctx.Done():
		o.logger.Warn("import drain deadline reached, cancelling running jobs")
		o.cancelRun()
		<-finished
		return ctx.Err()
	}
}

// jobRun holds the counters of one job. They mirror what has been recorded
// in the job store.
type jobRun struct {
	jobID   string
	groupID string
	logger  *slog.Logger

	dispatched atomic.Int64
	processed  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64

	processing bool
	totalKnown bool
}

// Process runs one job to a terminal status and publishes exactly one status
// event for it. A job that is already running here or is no longer PENDING
// is left alone; the result then carries ErrDuplicateImport and nothing is
// published.
func (o *Orchestrator) Process(ctx context.Context, jobID string, file io.Reader, groupID string, batchSize int) ImportResult {
	batchSize = o.BatchSize(batchSize)
	if !o.claim(jobID) {
		return ImportResult{
			JobID:   jobID,
			GroupID: groupID,
			Status:  domain.StatusProcessing,
			Err:     fmt.Errorf("%w: job %s is running", ErrDuplicateImport, jobID),
		}
	}
	defer o.release(jobID)

	job, err := o.admit(ctx, jobID, groupID, "", batchSize)
	if errors.Is(err, ErrDuplicateImport) {
		o.logger.Info("duplicate import ignored", slog.String("job_id", jobID), slog.Any("reason", err))
		return storedResult(job, err)
	}
	return o.execute(ctx, jobID, file, groupID, batchSize, err)
}

func (o *Orchestrator) claim(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, running := o.active[jobID]; running {
		return false
	}
	o.active[jobID] = struct{}{}
	return true
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	delete(o.active, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) activeJobs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// admit records the job as PENDING with a fresh lease. A job that already
// moved past PENDING was handled before and is reported as a duplicate.
func (o *Orchestrator) admit(ctx context.Context, jobID, groupID, sourcePath string, batchSize int) (*domain.ImportJob, error) {
	job := domain.NewImportJob(jobID, groupID, sourcePath, batchSize)
	lease := time.Now().Add(o.cfg.LeaseDuration)
	job.LeaseExpiresAt = &lease
	if err := o.store.Ensure(ctx, job); err != nil {
		return nil, fmt.Errorf("ensure job: %w", err)
	}

	stored, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if stored.Status != domain.StatusPending {
		return stored, fmt.Errorf("%w: job %s is %s", ErrDuplicateImport, jobID, stored.Status)
	}
	return stored, nil
}

func storedResult(job *domain.ImportJob, err error) ImportResult {
	res := ImportResult{
		JobID:     job.ID,
		GroupID:   job.GroupID,
		Status:    job.Status,
		Processed: job.ProcessedRows,
		Failed:    job.FailedRows,
		Skipped:   job.SkippedRows,
		Err:       err,
	}
	if job.TotalRows != nil {
		res.Total = *job.TotalRows
	} else {
		res.Total = job.ProcessedRows + job.FailedRows
	}
	return res
}

// execute runs an admitted job. A non-nil admitErr fails it without reading
// the file.
func (o *Orchestrator) execute(ctx context.Context, jobID string, file io.Reader, groupID string, batchSize int, admitErr error) (result ImportResult) {
	run := &jobRun{
		jobID:   jobID,
		groupID: groupID,
		logger:  o.logger.With(slog.String("job_id", jobID), slog.String("group_id", groupID)),
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()

	beatCtx, stopBeat := context.WithCancel(ctx)
	beatDone := make(chan struct{})
	go func() {
		defer close(beatDone)
		o.heartbeat(beatCtx, run)
	}()

	start := time.Now()
	runErr := admitErr
	defer func() {
		if r := recover(); r != nil {
			run.logger.Error("import job panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			runErr = fmt.Errorf("import panicked: %v", r)
		}
		stopBeat()
		<-beatDone
		result = o.finalize(ctx, run, runErr, time.Since(start))
	}()

	if runErr != nil {
		return result
	}
	runErr = o.run(ctx, run, file, batchSize)
	if runErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		runErr = fmt.Errorf("import timed out after %s: %w", o.cfg.JobTimeout, runErr)
	}
	return result
}

// heartbeat keeps the job's lease alive until ctx ends.
func (o *Orchestrator) heartbeat(ctx context.Context, run *jobRun) {
	ticker := time.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if err := o.store.Heartbeat(ctx, run.jobID, o.cfg.LeaseDuration); err != nil && ctx.Err() == nil {
			run.logger.Warn("import job heartbeat failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RecoverExpired fails the jobs a stopped or crashed process left behind and
// publishes their FAILED event. Jobs running in this process are skipped.
func (o *Orchestrator) RecoverExpired(ctx context.Context) (int, error) {
	jobs, err := o.store.ExpireLeases(ctx, o.activeJobs(), "import abandoned: lease expired before the job finished")
	if err != nil {
		return 0, fmt.Errorf("expire import job leases: %w", err)
	}

	for _, job := range jobs {
		res := storedResult(&job, nil)
		event := domain.StatusEvent{
			JobID:     res.JobID,
			GroupID:   res.GroupID,
			Status:    domain.StatusFailed,
			Processed: res.Processed,
			Total:     res.Total,
		}
		if err := o.publisher.Publish(ctx, event); err != nil {
			o.logger.Error("publish import status failed", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		o.metrics.JobFinished(string(domain.StatusFailed))
		o.logger.Warn("abandoned import job failed",
			slog.String("job_id", job.ID),
			slog.String("group_id", job.GroupID),
			slog.Int64("processed", res.Processed),
			slog.Int64("total", res.Total))
	}
	return len(jobs), nil
}

// RunRecovery sweeps abandoned jobs at once and then every RecoveryInterval
// until ctx ends.
func (o *Orchestrator) RunRecovery(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		if _, err := o.RecoverExpired(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("recover abandoned import jobs failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, run *jobRun, file io.Reader, batchSize int) error {
	batches := make(chan []domain.MatchSuggestion)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.MaxInFlightBatches; i++ {
		g.Go(recovered(run, "batch worker", func() error {
			return o.writeBatches(gctx, run, batches)
		}))
	}
	g.Go(recovered(run, "parser", func() error {
		defer close(batches)
		return o.produce(gctx, run, file, batchSize, batches)
	}))
	if err := g.Wait(); err != nil {
		return err
	}

	total, skipped := run.dispatched.Load(), run.skipped.Load()
	if err := o.store.SetTotals(ctx, run.jobID, total, skipped); err != nil {
		return fmt.Errorf("set totals: %w", err)
	}
	run.totalKnown = true
	o.metrics.AddSkipped(skipped)
	return nil
}

// produce groups parsed records into batches. The job moves to PROCESSING
// right before its first batch is handed over, so a file rejected up front
// fails straight from PENDING.
func (o *Orchestrator) produce(ctx context.Context, run *jobRun, file io.Reader, batchSize int, out chan<- []domain.MatchSuggestion) error {
	markProcessing := func() error {
		if run.processing {
			return nil
		}
		if err := o.store.MarkProcessing(ctx, run.jobID); err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
		run.processing = true
		return nil
	}

	batch := make([]domain.MatchSuggestion, 0, batchSize)
	dispatch := func() error {
		if err := markProcessing(); err != nil {
			return err
		}
		run.dispatched.Add(int64(len(batch)))
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
		batch = make([]domain.MatchSuggestion, 0, batchSize)
		return nil
	}

	onRowError := func(int64, error) { run.skipped.Add(1) }
	for s, err := range o.parser.Parse(ctx, file, onRowError) {
		if err != nil {
			return fmt.Errorf("parse source: %w", err)
		}
		if s.GroupID != run.groupID {
			run.skipped.Add(1)
			run.logger.Debug("skipping suggestion of another group", slog.String("row_group_id", s.GroupID))
			continue
		}
		batch = append(batch, s)
		if len(batch) >= batchSize {
			if err := dispatch(); err != nil {
				return err
			}
		}
	}
	if len(batch) > 0 {
		if err := dispatch(); err != nil {
			return err
		}
	}
	return markProcessing()
}

// writeBatches stores batches until the channel closes. A batch that fails on
// its own is counted and the job continues; an unavailable writer or a
// cancelled job aborts it.
func (o *Orchestrator) writeBatches(ctx context.Context, run *jobRun, in <-chan []domain.MatchSuggestion) error {
	for {
		var batch []domain.MatchSuggestion
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok {
				return nil
			}
			batch = b
		}

		rows := int64(len(batch))
		o.metrics.InFlight(1)
		err := o.write(ctx, batch, run.groupID)
		o.metrics.InFlight(-1)
		if err != nil {
			if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, errWriterPanicked) || ctx.Err() != nil {
				return fmt.Errorf("write batch: %w", err)
			}
			run.logger.Warn("batch failed", slog.Int64("rows", rows), slog.Any("error", err))
			run.failed.Add(rows)
			if err := o.store.AddFailed(ctx, run.jobID, rows); err != nil {
				return fmt.Errorf("record failed rows: %w", err)
			}
			continue
		}

		run.processed.Add(rows)
		if err := o.store.AddProcessed(ctx, run.jobID, rows); err != nil {
			return fmt.Errorf("record processed rows: %w", err)
		}
	}
}

// recovered turns a panic in one pipeline stage into an error for its group.
func recovered(run *jobRun, stage string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				run.logger.Error("import stage panicked", slog.String("stage", stage), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				err = fmt.Errorf("%s panicked: %v", stage, r)
			}
		}()
		return fn()
	}
}

var errWriterPanicked = errors.New("batch writer panicked")

func (o *Orchestrator) write(ctx context.Context, batch []domain.MatchSuggestion, groupID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("batch writer panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", errWriterPanicked, r)
		}
	}()
	_, err = o.writer.Write(ctx, batch, groupID)
	return err
}

// finalize settles the job status and publishes its event. It runs on a
// context detached from the job so a cancelled or timed out job is still
// recorded.
func (o *Orchestrator) finalize(ctx context.Context, run *jobRun, runErr error, elapsed time.Duration) ImportResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FinalizeTimeout)
	defer cancel()

	processed, failed := run.processed.Load(), run.failed.Load()
	total, skipped := run.dispatched.Load(), run.skipped.Load()

	status := domain.StatusCompleted
	cause := runErr
	switch {
	case runErr != nil:
		status = domain.StatusFailed
	case total > 0 && failed == total:
		status = domain.StatusFailed
		cause = fmt.Errorf("all %d rows failed to write", total)
	case processed < total-failed:
		status = domain.StatusFailed
		cause = fmt.Errorf("processed %d of %d rows with %d failed", processed, total, failed)
	}

	var reason *string
	if cause != nil {
		msg := truncateReason(cause.Error())
		reason = &msg
	}

	result := ImportResult{
		JobID:     run.jobID,
		GroupID:   run.groupID,
		Status:    status,
		Processed: processed,
		Failed:    failed,
		Skipped:   skipped,
		Total:     total,
		Err:       cause,
	}

	if err := o.store.Finalize(ctx, run.jobID, status, reason); err != nil {
		run.logger.Error("finalize import job failed", slog.String("status", string(status)), slog.Any("error", err))
		result.Err = errors.Join(result.Err, fmt.Errorf("finalize job: %w", err))
	}

	event := domain.StatusEvent{
		JobID:     run.jobID,
		GroupID:   run.groupID,
		Status:    status,
		Processed: processed,
		Total:     total,
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		run.logger.Error("publish import status failed", slog.Any("error", err))
	}
	o.metrics.JobFinished(string(status))

	attrs := []any{
		slog.String("status", string(status)),
		slog.Int64("processed", processed),
		slog.Int64("failed", failed),
		slog.Int64("skipped", skipped),
		slog.Int64("total", total),
		slog.Bool("total_known", run.totalKnown),
		slog.Duration("elapsed", elapsed),
	}
	if cause != nil {
		run.logger.Error("import job failed", append(attrs, slog.Any("error", cause))...)
	} else {
		run.logger.Info("import job completed", attrs...)
	}
	return result
}

func truncateReason(reason string) string {
	const maxLen = 1000
	reason = strings.TrimSpace(reason)
	if len(reason) <= maxLen {
		return reason
	}
	return reason[:maxLen]
}

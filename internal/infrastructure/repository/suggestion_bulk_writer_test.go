package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/cache"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/metrics"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/repository"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/wire"
)

type fakeLoader struct {
	mu        sync.Mutex
	failFirst int
	err       error
	calls     int
	payloads  [][]byte
	found     []domain.MatchSuggestion
	findCalls int

	delay     time.Duration
	blockTill bool
	started   chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
	closed    atomic.Bool
}

func (f *fakeLoader) LoadBatch(ctx context.Context, payload []byte) (int64, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.maxActive.Load()
		if n <= peak || f.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.blockTill {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if call <= f.failFirst {
		if f.err != nil {
			return 0, f.err
		}
		return 0, errors.New("connection reset")
	}
	stream, err := wire.ReadStream(payload)
	if err != nil {
		return 0, err
	}
	return int64(len(stream)), nil
}

func (f *fakeLoader) FindSuggestions(_ context.Context, _, _ string) ([]domain.MatchSuggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	return f.found, nil
}

func (f *fakeLoader) Close() { f.closed.Store(true) }

func (f *fakeLoader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) GetJSON(_ context.Context, key string, out any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

func (c *fakeCache) SetJSON(_ context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = b
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func fastConfig() repository.WriterConfig {
	return repository.WriterConfig{
		IOWorkers:      2,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BatchTimeout:   time.Second,
	}
}

func suggestionBatch(groupID string, participants ...string) []domain.MatchSuggestion {
	out := make([]domain.MatchSuggestion, 0, len(participants))
	for i, p := range participants {
		out = append(out, domain.MatchSuggestion{
			ID:                   uuid.New(),
			GroupID:              groupID,
			ParticipantID:        p,
			MatchedParticipantID: "m" + p,
			CompatibilityScore:   float64(i) / 10,
			SuggestionType:       domain.DefaultSuggestionType,
			CreatedAt:            time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		})
	}
	return out
}

func TestWriterWritesEncodedBatch(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	w := repository.NewSuggestionBulkWriter(loader, nil, nil, fastConfig())
	defer w.Shutdown(context.Background())

	batch := suggestionBatch("g1", "p1", "p2")
	out, err := w.Write(context.Background(), batch, "g1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Rows != 2 || out.Affected != 2 || out.Attempts != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	got, err := wire.ReadStream(loader.payloads[0])
	if err != nil {
		t.Fatalf("payload is not a copy stream: %v", err)
	}
	if diff := cmp.Diff(batch, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestWriterRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	p, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	loader := &fakeLoader{failFirst: 2}
	w := repository.NewSuggestionBulkWriter(loader, nil, p, fastConfig())
	defer w.Shutdown(context.Background())

	out, err := w.Write(context.Background(), suggestionBatch("g1", "p1"), "g1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", out.Attempts)
	}

	expected := `
# HELP match_import_write_retries_total Bulk write attempts after the first.
# TYPE match_import_write_retries_total counter
match_import_write_retries_total 2
`
	if err := testutil.GatherAndCompare(p.Registry(), strings.NewReader(expected), "match_import_write_retries_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestWriterGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{failFirst: 100}
	w := repository.NewSuggestionBulkWriter(loader, nil, nil, fastConfig())
	defer w.Shutdown(context.Background())

	out, err := w.Write(context.Background(), suggestionBatch("g1", "p1"), "g1")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("exhausted retries must not look like shutdown: %v", err)
	}
	if out.Attempts != 3 || loader.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got outcome %d calls %d", out.Attempts, loader.callCount())
	}
}

func TestWriterDoesNotRetryDataErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"invalid text":     "22P02",
		"unique violation": "23505",
		"undefined column": "42703",
	}
	for name, code := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			loader := &fakeLoader{failFirst: 100, err: &pgconn.PgError{Code: code, Message: name}}
			w := repository.NewSuggestionBulkWriter(loader, nil, nil, fastConfig())
			defer w.Shutdown(context.Background())

			if _, err := w.Write(context.Background(), suggestionBatch("g1", "p1"), "g1"); err == nil {
				t.Fatal("expected error")
			}
			if loader.callCount() != 1 {
				t.Fatalf("expected a single attempt, got %d", loader.callCount())
			}
		})
	}
}

func TestWriterRejectsForeignGroup(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	w := repository.NewSuggestionBulkWriter(loader, nil, nil, fastConfig())
	defer w.Shutdown(context.Background())

	_, err := w.Write(context.Background(), suggestionBatch("g2", "p1"), "g1")
	if !errors.Is(err, domain.ErrInvalidSuggestion) {
		t.Fatalf("expected ErrInvalidSuggestion, got %v", err)
	}
	if loader.callCount() != 0 {
		t.Fatal("expected no load attempt")
	}
}

func TestWriterShutdownRejectsWrites(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	w := repository.NewSuggestionBulkWriter(loader, nil, nil, fastConfig())

	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected idempotent shutdown, got %v", err)
	}
	if !loader.closed.Load() {
		t.Fatal("expected store to be closed")
	}

	if _, err := w.Write(context.Background(), suggestionBatch("g1", "p1"), "g1"); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := w.Find(context.Background(), "p1", "g1"); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Find, got %v", err)
	}
}

func TestWriterShutdownCancelsInFlightAfterDeadline(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{blockTill: true, started: make(chan struct{}, 1)}
	w := repository.NewSuggestionBulkWriter(loader, nil, nil, fastConfig())

	errCh := make(chan error, 1)
	go func() {
		_, err := w.Write(context.Background(), suggestionBatch("g1", "p1"), "g1")
		errCh <- err
	}()

	select {
	case <-loader.started:
	case <-time.After(2 * time.Second):
		t.Fatal("load never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable for cancelled batch, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write did not return after shutdown")
	}
	if loader.callCount() != 1 {
		t.Fatalf("cancelled batch must not be retried, got %d calls", loader.callCount())
	}
}

func TestWriterBoundsConcurrencyToIOWorkers(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{delay: 20 * time.Millisecond}
	w := repository.NewSuggestionBulkWriter(loader, nil, nil, fastConfig())
	defer w.Shutdown(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Write(context.Background(), suggestionBatch("g1", "p1"), "g1"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := loader.maxActive.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent loads, got %d", got)
	}
	if loader.callCount() != 6 {
		t.Fatalf("expected 6 loads, got %d", loader.callCount())
	}
}

func TestWriterFindCachesAndInvalidatesOnWrite(t *testing.T) {
	t.Parallel()

	stored := suggestionBatch("g1", "p1")
	loader := &fakeLoader{found: stored}
	c := newFakeCache()
	w := repository.NewSuggestionBulkWriter(loader, c, nil, fastConfig())
	defer w.Shutdown(context.Background())

	ctx := context.Background()
	first, err := w.Find(ctx, "p1", "g1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := w.Find(ctx, "p1", "g1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("cached result differs (-db +cache):\n%s", diff)
	}
	if loader.findCalls != 1 {
		t.Fatalf("expected one store read, got %d", loader.findCalls)
	}

	if _, err := w.Write(ctx, suggestionBatch("g1", "p1"), "g1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.has(cache.SuggestionKey("g1", "p1")) {
		t.Fatal("expected cache entry invalidated after write")
	}

	if _, err := w.Find(ctx, "p1", "g1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if loader.findCalls != 2 {
		t.Fatalf("expected a store read after invalidation, got %d", loader.findCalls)
	}
}

func TestWriterFindReturnsEmptySlice(t *testing.T) {
	t.Parallel()

	w := repository.NewSuggestionBulkWriter(&fakeLoader{}, nil, nil, fastConfig())
	defer w.Shutdown(context.Background())

	got, err := w.Find(context.Background(), "nobody", "g1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

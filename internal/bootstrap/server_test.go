package bootstrap_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/mohammadpnp/suggestion-import/internal/application/suggestion"
	"github.com/mohammadpnp/suggestion-import/internal/bootstrap"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/messaging"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/metrics"
)

type fakeSubmitter struct {
	got app.SubmitInput
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, in app.SubmitInput) (app.Submission, error) {
	f.got = in
	return app.Submission{JobID: in.JobID, Status: domain.StatusPending}, f.err
}

func TestSubmitRequestMapsFields(t *testing.T) {
	t.Parallel()

	s := &fakeSubmitter{}
	handle := bootstrap.SubmitRequest(s)

	err := handle(context.Background(), messaging.ImportRequest{JobID: "j1", SourcePath: "a.parquet", GroupID: "g1", BatchSize: 7})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.got != (app.SubmitInput{JobID: "j1", SourcePath: "a.parquet", GroupID: "g1", BatchSize: 7}) {
		t.Fatalf("unexpected submit input: %+v", s.got)
	}
}

func TestSubmitRequestPassesUnavailable(t *testing.T) {
	t.Parallel()

	handle := bootstrap.SubmitRequest(&fakeSubmitter{err: domain.ErrUnavailable})
	if err := handle(context.Background(), messaging.ImportRequest{}); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSubmitRequestDropsDuplicates(t *testing.T) {
	t.Parallel()

	handle := bootstrap.SubmitRequest(&fakeSubmitter{err: fmt.Errorf("%w: job j1 is COMPLETED", app.ErrDuplicateImport)})
	if err := handle(context.Background(), messaging.ImportRequest{JobID: "j1"}); err != nil {
		t.Fatalf("expected duplicate to be dropped, got %v", err)
	}
}

func TestHTTPServerServesHealthAndMetrics(t *testing.T) {
	t.Parallel()

	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	m.JobFinished("COMPLETED")

	server := bootstrap.NewHTTPServer(bootstrap.HTTPDeps{
		StartImport:     app.NewStartImport(&fakeSubmitter{}),
		GetImportJob:    app.NewGetImportJob(nil),
		FindSuggestions: app.NewFindSuggestions(nil),
		Metrics:         m.Handler(),
	})

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}
}

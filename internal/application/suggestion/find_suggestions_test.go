package suggestion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	app "github.com/mohammadpnp/suggestion-import/internal/application/suggestion"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
)

type fakeFinder struct {
	out []domain.MatchSuggestion
	err error

	participantID, groupID string
}

func (f *fakeFinder) Find(ctx context.Context, participantID, groupID string) ([]domain.MatchSuggestion, error) {
	f.participantID, f.groupID = participantID, groupID
	return f.out, f.err
}

func TestFindSuggestionsSuccess(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("0b9f2a8e-5c1d-4e3f-8a7b-6c5d4e3f2a1b")
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	finder := &fakeFinder{out: []domain.MatchSuggestion{{
		ID:                   id,
		GroupID:              "g1",
		ParticipantID:        "p1",
		MatchedParticipantID: "m1",
		CompatibilityScore:   0.9,
		SuggestionType:       domain.DefaultSuggestionType,
		CreatedAt:            created,
	}}}

	out, err := app.NewFindSuggestions(finder).Execute(context.Background(), app.FindSuggestionsInput{GroupID: "g1", ParticipantID: " p1 "})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if finder.participantID != "p1" || finder.groupID != "g1" {
		t.Fatalf("unexpected lookup: %q %q", finder.participantID, finder.groupID)
	}
	if len(out.Suggestions) != 1 || out.Suggestions[0].ID != id.String() || out.Suggestions[0].CompatibilityScore != 0.9 {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestFindSuggestionsEmpty(t *testing.T) {
	t.Parallel()

	out, err := app.NewFindSuggestions(&fakeFinder{}).Execute(context.Background(), app.FindSuggestionsInput{GroupID: "g1", ParticipantID: "p1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Suggestions == nil || len(out.Suggestions) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", out.Suggestions)
	}
}

func TestFindSuggestionsErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in     app.FindSuggestionsInput
		finder *fakeFinder
		want   error
	}{
		"missing group":       {in: app.FindSuggestionsInput{ParticipantID: "p1"}, finder: &fakeFinder{}, want: app.ErrInvalidGroupID},
		"missing participant": {in: app.FindSuggestionsInput{GroupID: "g1"}, finder: &fakeFinder{}, want: app.ErrInvalidParticipantID},
		"unavailable": {
			in:     app.FindSuggestionsInput{GroupID: "g1", ParticipantID: "p1"},
			finder: &fakeFinder{err: domain.ErrUnavailable},
			want:   domain.ErrUnavailable,
		},
		"store error": {
			in:     app.FindSuggestionsInput{GroupID: "g1", ParticipantID: "p1"},
			finder: &fakeFinder{err: errors.New("db down")},
			want:   app.ErrFindSuggestions,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.NewFindSuggestions(tc.finder).Execute(context.Background(), tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

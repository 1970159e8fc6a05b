package suggestion_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

func newFactory() *domain.SuggestionFactory {
	f := domain.NewSuggestionFactory()
	f.Now = func() time.Time { return fixedNow }
	return f
}

func TestSuggestionFactoryDecodeParticipant(t *testing.T) {
	t.Parallel()

	got, err := newFactory().Decode("", "p1", map[string]string{
		domain.MetaMatchedParticipantID: "m1",
		domain.MetaCompatibilityScore:   "0.9",
		"favourite_colour":              "blue",
	}, "g1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.ParticipantID != "p1" || got.MatchedParticipantID != "m1" || got.GroupID != "g1" {
		t.Fatalf("unexpected identity fields: %+v", got)
	}
	if got.CompatibilityScore != 0.9 {
		t.Fatalf("unexpected score: %v", got.CompatibilityScore)
	}
	if got.SuggestionType != domain.DefaultSuggestionType {
		t.Fatalf("unexpected suggestion type: %s", got.SuggestionType)
	}
	if got.ID == uuid.Nil {
		t.Fatal("expected generated id")
	}
	if !got.CreatedAt.Equal(fixedNow.Truncate(time.Microsecond)) {
		t.Fatalf("unexpected created_at: %v", got.CreatedAt)
	}
}

func TestSuggestionFactoryDecodeExplicitFields(t *testing.T) {
	t.Parallel()

	id := "0b7d6e44-5a0e-4b8a-9f5c-2f3f2d8e9a11"
	got, err := newFactory().Decode("participant", "p1", map[string]string{
		domain.MetaID:                   id,
		domain.MetaMatchedParticipantID: "m1",
		domain.MetaCompatibilityScore:   "0.25",
		domain.MetaSuggestionType:       "MENTOR",
		domain.MetaCreatedAt:            "2023-01-02 03:04:05.000006",
	}, "g1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.ID.String() != id {
		t.Fatalf("unexpected id: %s", got.ID)
	}
	if got.SuggestionType != "MENTOR" {
		t.Fatalf("unexpected suggestion type: %s", got.SuggestionType)
	}
	want := time.Date(2023, 1, 2, 3, 4, 5, 6000, time.UTC)
	if !got.CreatedAt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got.CreatedAt)
	}
}

func TestSuggestionFactoryDecodeErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		kind     string
		metadata map[string]string
		want     error
	}{
		{"unknown kind", "company", map[string]string{domain.MetaMatchedParticipantID: "m1", domain.MetaCompatibilityScore: "1"}, domain.ErrUnknownKind},
		{"missing score", "", map[string]string{domain.MetaMatchedParticipantID: "m1"}, domain.ErrInvalidSuggestion},
		{"bad score", "", map[string]string{domain.MetaMatchedParticipantID: "m1", domain.MetaCompatibilityScore: "high"}, domain.ErrInvalidSuggestion},
		{"nan score", "", map[string]string{domain.MetaMatchedParticipantID: "m1", domain.MetaCompatibilityScore: "NaN"}, domain.ErrInvalidSuggestion},
		{"missing matched", "", map[string]string{domain.MetaCompatibilityScore: "1"}, domain.ErrInvalidSuggestion},
		{"bad id", "", map[string]string{domain.MetaMatchedParticipantID: "m1", domain.MetaCompatibilityScore: "1", domain.MetaID: "nope"}, domain.ErrInvalidSuggestion},
		{"bad created_at", "", map[string]string{domain.MetaMatchedParticipantID: "m1", domain.MetaCompatibilityScore: "1", domain.MetaCreatedAt: "yesterday"}, domain.ErrInvalidSuggestion},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := newFactory().Decode(tc.kind, "p1", tc.metadata, "g1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[[2]domain.Status]bool{
		{domain.StatusPending, domain.StatusProcessing}:   true,
		{domain.StatusPending, domain.StatusFailed}:       true,
		{domain.StatusProcessing, domain.StatusCompleted}: true,
		{domain.StatusProcessing, domain.StatusFailed}:    true,
	}
	all := []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed}
	for _, from := range all {
		for _, to := range all {
			if got := from.CanTransition(to); got != allowed[[2]domain.Status{from, to}] {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, !got, got)
			}
		}
	}

	preds := domain.Predecessors(domain.StatusFailed)
	if len(preds) != 2 {
		t.Fatalf("expected 2 predecessors of FAILED, got %v", preds)
	}
}

func TestSuggestionFactoryDerivesStableIDs(t *testing.T) {
	t.Parallel()

	decode := func(matched, kind string) domain.MatchSuggestion {
		t.Helper()
		got, err := domain.NewSuggestionFactory().Decode("", "p1", map[string]string{
			domain.MetaMatchedParticipantID: matched,
			domain.MetaCompatibilityScore:   "0.5",
			domain.MetaSuggestionType:       kind,
		}, "g1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		return got
	}

	first, again := decode("m1", ""), decode("m1", "DEFAULT")
	if first.ID != again.ID {
		t.Fatalf("expected the same key to get the same id, got %s and %s", first.ID, again.ID)
	}
	if first.ID != first.Key().ID() {
		t.Fatalf("expected id derived from key, got %s", first.ID)
	}
	if other := decode("m2", ""); other.ID == first.ID {
		t.Fatal("expected different keys to get different ids")
	}
	if mentor := decode("m1", "MENTOR"); mentor.ID == first.ID {
		t.Fatal("expected suggestion type to be part of the id")
	}
}

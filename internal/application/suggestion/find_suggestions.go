package suggestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
)

type FindSuggestionsInput struct {
	GroupID       string
	ParticipantID string
}

type SuggestionOutput struct {
	ID                   string    `json:"id"`
	GroupID              string    `json:"group_id"`
	ParticipantID        string    `json:"participant_id"`
	MatchedParticipantID string    `json:"matched_participant_id"`
	CompatibilityScore   float64   `json:"compatibility_score"`
	SuggestionType       string    `json:"suggestion_type"`
	CreatedAt            time.Time `json:"created_at"`
}

type FindSuggestionsOutput struct {
	Suggestions []SuggestionOutput `json:"suggestions"`
}

type FindSuggestions interface {
	Execute(ctx context.Context, in FindSuggestionsInput) (FindSuggestionsOutput, error)
}

type suggestionFinder interface {
	Find(ctx context.Context, participantID, groupID string) ([]domain.MatchSuggestion, error)
}

type findSuggestions struct {
	finder suggestionFinder
}

func NewFindSuggestions(finder suggestionFinder) FindSuggestions {
	return &findSuggestions{finder: finder}
}

func (uc *findSuggestions) Execute(ctx context.Context, in FindSuggestionsInput) (FindSuggestionsOutput, error) {
	groupID := strings.TrimSpace(in.GroupID)
	if groupID == "" {
		return FindSuggestionsOutput{}, ErrInvalidGroupID
	}
	participantID := strings.TrimSpace(in.ParticipantID)
	if participantID == "" {
		return FindSuggestionsOutput{}, ErrInvalidParticipantID
	}

	found, err := uc.finder.Find(ctx, participantID, groupID)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) {
			return FindSuggestionsOutput{}, domain.ErrUnavailable
		}
		return FindSuggestionsOutput{}, fmt.Errorf("%w: %v", ErrFindSuggestions, err)
	}

	out := make([]SuggestionOutput, 0, len(found))
	for _, s := range found {
		out = append(out, SuggestionOutput{
			ID:                   s.ID.String(),
			GroupID:              s.GroupID,
			ParticipantID:        s.ParticipantID,
			MatchedParticipantID: s.MatchedParticipantID,
			CompatibilityScore:   s.CompatibilityScore,
			SuggestionType:       s.SuggestionType,
			CreatedAt:            s.CreatedAt,
		})
	}
	return FindSuggestionsOutput{Suggestions: out}, nil
}

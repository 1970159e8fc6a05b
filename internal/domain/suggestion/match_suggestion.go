package suggestion

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultSuggestionType = "DEFAULT"

// MatchSuggestion is the canonical, storage-ready record. It is never
// mutated after construction.
type MatchSuggestion struct {
	ID                   uuid.UUID
	GroupID              string
	ParticipantID        string
	MatchedParticipantID string
	CompatibilityScore   float64
	SuggestionType       string
	CreatedAt            time.Time
}

// Key identifies the row a suggestion upserts into.
type Key struct {
	GroupID              string
	ParticipantID        string
	MatchedParticipantID string
	SuggestionType       string
}

var keyNamespace = uuid.MustParse("5d3f8a2e-9c41-4b6e-8f27-1a0c9e6b7d54")

// ID derives a stable row id from the key, so re-importing a file without ids
// yields the same ids.
func (k Key) ID() uuid.UUID {
	name := strings.Join([]string{k.GroupID, k.ParticipantID, k.MatchedParticipantID, k.SuggestionType}, "\x1f")
	return uuid.NewSHA1(keyNamespace, []byte(name))
}

func (s MatchSuggestion) Key() Key {
	return Key{
		GroupID:              s.GroupID,
		ParticipantID:        s.ParticipantID,
		MatchedParticipantID: s.MatchedParticipantID,
		SuggestionType:       s.SuggestionType,
	}
}

// NewMatchSuggestion validates the fields and normalizes CreatedAt to UTC
// with microsecond precision, which is what the storage engine keeps.
func NewMatchSuggestion(id uuid.UUID, groupID, participantID, matchedID string, score float64, suggestionType string, createdAt time.Time) (MatchSuggestion, error) {
	groupID = strings.TrimSpace(groupID)
	participantID = strings.TrimSpace(participantID)
	matchedID = strings.TrimSpace(matchedID)
	suggestionType = strings.TrimSpace(suggestionType)

	switch {
	case groupID == "":
		return MatchSuggestion{}, fmt.Errorf("%w: empty group id", ErrInvalidSuggestion)
	case participantID == "":
		return MatchSuggestion{}, fmt.Errorf("%w: empty participant id", ErrInvalidSuggestion)
	case matchedID == "":
		return MatchSuggestion{}, fmt.Errorf("%w: empty matched participant id", ErrInvalidSuggestion)
	case math.IsNaN(score) || math.IsInf(score, 0):
		return MatchSuggestion{}, fmt.Errorf("%w: compatibility score must be finite", ErrInvalidSuggestion)
	}
	if suggestionType == "" {
		suggestionType = DefaultSuggestionType
	}
	s := MatchSuggestion{
		ID:                   id,
		GroupID:              groupID,
		ParticipantID:        participantID,
		MatchedParticipantID: matchedID,
		CompatibilityScore:   score,
		SuggestionType:       suggestionType,
		CreatedAt:            createdAt.UTC().Truncate(time.Microsecond),
	}
	if s.ID == uuid.Nil {
		s.ID = s.Key().ID()
	}
	return s, nil
}

package suggestion

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record kinds understood by the factory. An empty kind is a participant row.
const (
	KindParticipant = "participant"
)

// Metadata keys read by the participant decoder. Any other key is ignored.
const (
	MetaMatchedParticipantID = "matched_participant_id"
	MetaCompatibilityScore   = "compatibility_score"
	MetaSuggestionType       = "suggestion_type"
	MetaCreatedAt            = "created_at"
	MetaID                   = "id"
)

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

type kindDecoder func(referenceID string, metadata map[string]string, groupID string, now time.Time) (MatchSuggestion, error)

// SuggestionFactory turns one raw columnar row into a MatchSuggestion,
// dispatching on the row's record kind.
type SuggestionFactory struct {
	Now func() time.Time

	kinds map[string]kindDecoder
}

func NewSuggestionFactory() *SuggestionFactory {
	return &SuggestionFactory{
		Now: time.Now,
		kinds: map[string]kindDecoder{
			KindParticipant: decodeParticipant,
		},
	}
}

func (f *SuggestionFactory) Decode(kind, referenceID string, metadata map[string]string, groupID string) (MatchSuggestion, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = KindParticipant
	}
	decode, ok := f.kinds[kind]
	if !ok {
		return MatchSuggestion{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return decode(referenceID, metadata, groupID, now())
}

func decodeParticipant(referenceID string, metadata map[string]string, groupID string, now time.Time) (MatchSuggestion, error) {
	rawScore := strings.TrimSpace(metadata[MetaCompatibilityScore])
	if rawScore == "" {
		return MatchSuggestion{}, fmt.Errorf("%w: missing %s", ErrInvalidSuggestion, MetaCompatibilityScore)
	}
	score, err := strconv.ParseFloat(rawScore, 64)
	if err != nil {
		return MatchSuggestion{}, fmt.Errorf("%w: %s %q: %v", ErrInvalidSuggestion, MetaCompatibilityScore, rawScore, err)
	}

	id := uuid.Nil
	if raw := strings.TrimSpace(metadata[MetaID]); raw != "" {
		id, err = uuid.Parse(raw)
		if err != nil {
			return MatchSuggestion{}, fmt.Errorf("%w: %s %q: %v", ErrInvalidSuggestion, MetaID, raw, err)
		}
	}

	createdAt := now
	if raw := strings.TrimSpace(metadata[MetaCreatedAt]); raw != "" {
		createdAt, err = parseCreatedAt(raw)
		if err != nil {
			return MatchSuggestion{}, err
		}
	}

	return NewMatchSuggestion(
		id,
		groupID,
		referenceID,
		metadata[MetaMatchedParticipantID],
		score,
		metadata[MetaSuggestionType],
		createdAt,
	)
}

func parseCreatedAt(raw string) (time.Time, error) {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %q is not a timestamp", ErrInvalidSuggestion, MetaCreatedAt, raw)
}

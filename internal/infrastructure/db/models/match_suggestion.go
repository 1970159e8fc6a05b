package models

import "time"

// MatchSuggestion rows are written by the COPY loader; gorm only migrates
// the table and its key index.
type MatchSuggestion struct {
	ID                   string    `gorm:"type:uuid;primaryKey"`
	GroupID              string    `gorm:"type:text;not null;uniqueIndex:ux_match_suggestions_key,priority:1"`
	ParticipantID        string    `gorm:"type:text;not null;uniqueIndex:ux_match_suggestions_key,priority:2"`
	MatchedParticipantID string    `gorm:"type:text;not null;uniqueIndex:ux_match_suggestions_key,priority:3"`
	SuggestionType       string    `gorm:"type:text;not null;uniqueIndex:ux_match_suggestions_key,priority:4"`
	CompatibilityScore   float64   `gorm:"type:double precision;not null"`
	CreatedAt            time.Time `gorm:"type:timestamptz;not null"`
}

func (MatchSuggestion) TableName() string {
	return "match_suggestions"
}

package repository

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/wire"
)

const stagingTable = "stg_match_suggestions"

var (
	createStagingSQL = `
CREATE TEMP TABLE ` + stagingTable + ` (
  id UUID NOT NULL,
  group_id TEXT NOT NULL,
  participant_id TEXT NOT NULL,
  matched_participant_id TEXT NOT NULL,
  compatibility_score DOUBLE PRECISION NOT NULL,
  suggestion_type TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
) ON COMMIT DROP`

	copyStagingSQL = "COPY " + stagingTable + " (" + strings.Join(wire.Columns, ", ") + ") FROM STDIN (FORMAT binary)"

	// The staged batch may repeat a key; DISTINCT ON keeps the winner so the
	// upsert never touches the same target row twice. A stored row keeps its
	// id when a better suggestion replaces its score.
	upsertSuggestionsSQL = `
INSERT INTO match_suggestions AS t (id, group_id, participant_id, matched_participant_id, compatibility_score, suggestion_type, created_at)
SELECT DISTINCT ON (group_id, participant_id, matched_participant_id, suggestion_type)
  id, group_id, participant_id, matched_participant_id, compatibility_score, suggestion_type, created_at
FROM ` + stagingTable + `
ORDER BY group_id, participant_id, matched_participant_id, suggestion_type, compatibility_score DESC, created_at DESC
ON CONFLICT (group_id, participant_id, matched_participant_id, suggestion_type) DO UPDATE
  SET compatibility_score = EXCLUDED.compatibility_score,
      created_at = EXCLUDED.created_at
  WHERE EXCLUDED.compatibility_score > t.compatibility_score
     OR (EXCLUDED.compatibility_score = t.compatibility_score AND EXCLUDED.created_at > t.created_at)`

	findSuggestionsSQL = `
SELECT id, group_id, participant_id, matched_participant_id, compatibility_score, suggestion_type, created_at
FROM match_suggestions
WHERE participant_id = $1 AND group_id = $2
ORDER BY compatibility_score DESC, created_at DESC, matched_participant_id`
)

// PostgresSuggestionStore loads pre-encoded COPY payloads and serves reads.
type PostgresSuggestionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSuggestionStore(pool *pgxpool.Pool) *PostgresSuggestionStore {
	return &PostgresSuggestionStore{pool: pool}
}

// LoadBatch runs one transaction: stage the payload with binary COPY, then
// merge it into match_suggestions. It returns the number of target rows
// inserted or updated.
func (s *PostgresSuggestionStore) LoadBatch(ctx context.Context, payload []byte) (int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL synchronous_commit TO OFF"); err != nil {
		return 0, fmt.Errorf("relax synchronous_commit: %w", err)
	}
	if _, err := tx.Exec(ctx, createStagingSQL); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}
	if _, err := tx.Conn().PgConn().CopyFrom(ctx, bytes.NewReader(payload), copyStagingSQL); err != nil {
		return 0, fmt.Errorf("copy suggestions staging: %w", err)
	}

	tag, err := tx.Exec(ctx, upsertSuggestionsSQL)
	if err != nil {
		return 0, fmt.Errorf("upsert suggestions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit suggestion batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresSuggestionStore) FindSuggestions(ctx context.Context, participantID, groupID string) ([]domain.MatchSuggestion, error) {
	rows, err := s.pool.Query(ctx, findSuggestionsSQL, participantID, groupID)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MatchSuggestion, error) {
		var m domain.MatchSuggestion
		err := row.Scan(&m.ID, &m.GroupID, &m.ParticipantID, &m.MatchedParticipantID, &m.CompatibilityScore, &m.SuggestionType, &m.CreatedAt)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan suggestions: %w", err)
	}
	return out, nil
}

func (s *PostgresSuggestionStore) Close() {
	s.pool.Close()
}

// Package wire encodes match suggestions in the PostgreSQL binary COPY
// format. Column order is fixed and must match Columns:
//
//	id                      int32 16, 16 bytes (two big-endian uint64 halves)
//	group_id                int32 len, UTF-8
//	participant_id          int32 len, UTF-8
//	matched_participant_id  int32 len, UTF-8
//	compatibility_score     int32 8, IEEE-754 float64
//	suggestion_type         int32 len, UTF-8
//	created_at              int32 8, int64 microseconds since 2000-01-01 UTC
//
// Every tuple starts with an int16 field count.
package wire

import (
	"encoding/binary"
	"math"

	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
)

const FieldCount = 7

// Columns is the column list matching the tuple layout.
var Columns = []string{
	"id",
	"group_id",
	"participant_id",
	"matched_participant_id",
	"compatibility_score",
	"suggestion_type",
	"created_at",
}

// postgresEpochMicros is 2000-01-01T00:00:00Z expressed in Unix microseconds.
const postgresEpochMicros int64 = 946684800 * 1_000_000

var signature = []byte("PGCOPY\n\xff\r\n\x00")

// Header returns the 19-byte stream header: signature, flags and header
// extension length.
func Header() []byte {
	b := make([]byte, 0, len(signature)+8)
	b = append(b, signature...)
	b = binary.BigEndian.AppendUint32(b, 0)
	b = binary.BigEndian.AppendUint32(b, 0)
	return b
}

// Trailer returns the end-of-data marker.
func Trailer() []byte {
	return []byte{0xff, 0xff}
}

// Serialize encodes one suggestion as a standalone tuple.
func Serialize(s domain.MatchSuggestion) []byte {
	return AppendTuple(make([]byte, 0, tupleSize(s)), s)
}

// AppendTuple appends the tuple for s to buf.
func AppendTuple(buf []byte, s domain.MatchSuggestion) []byte {
	buf = binary.BigEndian.AppendUint16(buf, FieldCount)

	buf = binary.BigEndian.AppendUint32(buf, 16)
	buf = binary.BigEndian.AppendUint64(buf, binary.BigEndian.Uint64(s.ID[:8]))
	buf = binary.BigEndian.AppendUint64(buf, binary.BigEndian.Uint64(s.ID[8:]))

	buf = appendText(buf, s.GroupID)
	buf = appendText(buf, s.ParticipantID)
	buf = appendText(buf, s.MatchedParticipantID)

	buf = binary.BigEndian.AppendUint32(buf, 8)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(s.CompatibilityScore))

	buf = appendText(buf, s.SuggestionType)

	buf = binary.BigEndian.AppendUint32(buf, 8)
	buf = binary.BigEndian.AppendUint64(buf, uint64(ToPostgresMicros(s.CreatedAt.UnixMicro())))
	return buf
}

// EncodeBatch returns a complete COPY stream for the batch.
func EncodeBatch(batch []domain.MatchSuggestion) []byte {
	size := len(signature) + 8 + 2
	for _, s := range batch {
		size += tupleSize(s)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, Header()...)
	for _, s := range batch {
		buf = AppendTuple(buf, s)
	}
	return append(buf, Trailer()...)
}

func ToPostgresMicros(unixMicros int64) int64 {
	return unixMicros - postgresEpochMicros
}

func FromPostgresMicros(pgMicros int64) int64 {
	return pgMicros + postgresEpochMicros
}

func appendText(buf []byte, v string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

func tupleSize(s domain.MatchSuggestion) int {
	return 2 + 7*4 + 16 + 8 + 8 +
		len(s.GroupID) + len(s.ParticipantID) + len(s.MatchedParticipantID) + len(s.SuggestionType)
}

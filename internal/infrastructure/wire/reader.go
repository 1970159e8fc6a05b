package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
)

var (
	ErrShortBuffer  = errors.New("wire: short buffer")
	ErrBadSignature = errors.New("wire: bad copy signature")
	ErrBadTuple     = errors.New("wire: malformed tuple")
)

// ReadTuple decodes one tuple from the start of b and returns the number of
// bytes consumed.
func ReadTuple(b []byte) (domain.MatchSuggestion, int, error) {
	r := tupleReader{b: b}

	count, err := r.uint16()
	if err != nil {
		return domain.MatchSuggestion{}, 0, err
	}
	if count != FieldCount {
		return domain.MatchSuggestion{}, 0, fmt.Errorf("%w: field count %d", ErrBadTuple, count)
	}

	var s domain.MatchSuggestion

	id, err := r.fixed(16)
	if err != nil {
		return domain.MatchSuggestion{}, 0, err
	}
	s.ID = uuid.UUID(id)

	if s.GroupID, err = r.text(); err != nil {
		return domain.MatchSuggestion{}, 0, err
	}
	if s.ParticipantID, err = r.text(); err != nil {
		return domain.MatchSuggestion{}, 0, err
	}
	if s.MatchedParticipantID, err = r.text(); err != nil {
		return domain.MatchSuggestion{}, 0, err
	}

	score, err := r.fixed(8)
	if err != nil {
		return domain.MatchSuggestion{}, 0, err
	}
	s.CompatibilityScore = math.Float64frombits(binary.BigEndian.Uint64(score))

	if s.SuggestionType, err = r.text(); err != nil {
		return domain.MatchSuggestion{}, 0, err
	}

	ts, err := r.fixed(8)
	if err != nil {
		return domain.MatchSuggestion{}, 0, err
	}
	micros := FromPostgresMicros(int64(binary.BigEndian.Uint64(ts)))
	s.CreatedAt = time.UnixMicro(micros).UTC()

	return s, r.off, nil
}

// ReadStream decodes a full COPY payload produced by EncodeBatch.
func ReadStream(b []byte) ([]domain.MatchSuggestion, error) {
	header := Header()
	if len(b) < len(header) {
		return nil, ErrShortBuffer
	}
	if !bytes.Equal(b[:len(signature)], signature) {
		return nil, ErrBadSignature
	}
	b = b[len(header):]

	var out []domain.MatchSuggestion
	for {
		if len(b) < 2 {
			return nil, ErrShortBuffer
		}
		if int16(binary.BigEndian.Uint16(b)) == -1 {
			return out, nil
		}
		s, n, err := ReadTuple(b)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		b = b[n:]
	}
}

type tupleReader struct {
	b   []byte
	off int
}

func (r *tupleReader) take(n int) ([]byte, error) {
	if len(r.b)-r.off < n {
		return nil, ErrShortBuffer
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *tupleReader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *tupleReader) length() (int, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	n := int32(binary.BigEndian.Uint32(b))
	if n < 0 {
		return 0, fmt.Errorf("%w: null field", ErrBadTuple)
	}
	return int(n), nil
}

func (r *tupleReader) fixed(width int) ([]byte, error) {
	n, err := r.length()
	if err != nil {
		return nil, err
	}
	if n != width {
		return nil, fmt.Errorf("%w: expected %d-byte field, got %d", ErrBadTuple, width, n)
	}
	return r.take(n)
}

func (r *tupleReader) text() (string, error) {
	n, err := r.length()
	if err != nil {
		return "", err
	}
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Package columnar streams Parquet input into typed records without
// materializing the file in memory.
package columnar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"runtime"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

var ErrInputTooLarge = errors.New("input exceeds spool limit")

const (
	defaultReadBatchRows   = 1024
	defaultCheckpointEvery = 1_000_000
	defaultMaxSpoolBytes   = 8 << 30
)

// RecordFactory builds one T from the reserved fields of a row and the
// remaining columns as string metadata.
type RecordFactory[T any] interface {
	Decode(kind, referenceID string, metadata map[string]string, groupID string) (T, error)
}

type Options struct {
	// SpoolDir holds the scratch copy of non-seekable input. Empty means
	// os.TempDir.
	SpoolDir      string
	MaxSpoolBytes int64

	// ReadBatchRows is the number of rows decoded from the file at a time.
	ReadBatchRows int64

	CheckpointEvery int64
	OnCheckpoint    func(rows int64)

	// OnRowError is called for every skipped row with its 1-based position.
	OnRowError func(row int64, err error)

	Cache  *SchemaCache
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxSpoolBytes <= 0 {
		o.MaxSpoolBytes = defaultMaxSpoolBytes
	}
	if o.ReadBatchRows <= 0 {
		o.ReadBatchRows = defaultReadBatchRows
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = defaultCheckpointEvery
	}
	if o.Cache == nil {
		o.Cache = defaultSchemaCache
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Parse returns a single-pass sequence over the records in src. A schema or
// stream failure is yielded once as a non-nil error and ends the sequence;
// rows that fail to decode are skipped. Scratch files and readers are
// released when the sequence ends, including when the caller stops early.
func Parse[T any](ctx context.Context, src io.Reader, factory RecordFactory[T], opts Options) iter.Seq2[T, error] {
	opts = opts.withDefaults()

	return func(yield func(T, error) bool) {
		var zero T

		in, release, err := spool(src, opts)
		if err != nil {
			yield(zero, err)
			return
		}
		defer release()

		pf, err := file.NewParquetReader(in)
		if err != nil {
			yield(zero, fmt.Errorf("open parquet: %w", err))
			return
		}
		defer pf.Close()

		fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: opts.ReadBatchRows}, memory.DefaultAllocator)
		if err != nil {
			yield(zero, fmt.Errorf("open arrow reader: %w", err))
			return
		}

		schema, err := fr.Schema()
		if err != nil {
			yield(zero, fmt.Errorf("read parquet schema: %w", err))
			return
		}
		idx, cached, err := opts.Cache.lookup(schema)
		if err != nil {
			yield(zero, err)
			return
		}
		opts.Logger.Debug("parquet schema resolved",
			slog.Int64("rows", pf.NumRows()),
			slog.Int("columns", len(schema.Fields())),
			slog.Bool("cached", cached))

		rr, err := fr.GetRecordReader(ctx, nil, nil)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			yield(zero, fmt.Errorf("open record reader: %w", err))
			return
		}
		defer rr.Release()

		var row int64
		for rr.Next() {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			rec := rr.Record()
			n := int(rec.NumRows())
			for i := 0; i < n; i++ {
				row++
				v, err := decodeRow(rec, i, idx, factory)
				if err != nil {
					opts.Logger.Warn("skipping row", slog.Int64("row", row), slog.Any("error", err))
					if opts.OnRowError != nil {
						opts.OnRowError(row, err)
					}
				} else if !yield(v, nil) {
					return
				}

				if row%opts.CheckpointEvery == 0 {
					checkpoint(opts, row)
				}
			}
		}
		if err := ctx.Err(); err != nil {
			yield(zero, err)
			return
		}
		if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
			yield(zero, fmt.Errorf("read parquet rows: %w", err))
		}
	}
}

func decodeRow[T any](rec arrow.Record, i int, idx *fieldIndex, factory RecordFactory[T]) (T, error) {
	var zero T

	groupID := cell(rec.Column(idx.groupID), i)
	if groupID == "" {
		return zero, fmt.Errorf("empty %s", FieldGroupID)
	}
	referenceID := cell(rec.Column(idx.referenceID), i)
	if referenceID == "" {
		return zero, fmt.Errorf("empty %s", FieldReferenceID)
	}
	kind := ""
	if idx.kind >= 0 {
		kind = cell(rec.Column(idx.kind), i)
	}

	metadata := make(map[string]string, len(idx.metadata))
	for _, col := range idx.metadata {
		arr := rec.Column(col.index)
		if arr.IsNull(i) {
			continue
		}
		metadata[col.name] = arr.ValueStr(i)
	}

	return factory.Decode(kind, referenceID, metadata, groupID)
}

func cell(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return ""
	}
	return arr.ValueStr(i)
}

func checkpoint(opts Options, rows int64) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	opts.Logger.Info("parse checkpoint",
		slog.Int64("rows", rows),
		slog.Uint64("heap_alloc_bytes", mem.HeapAlloc),
		slog.Uint64("heap_sys_bytes", mem.HeapSys))
	if opts.OnCheckpoint != nil {
		opts.OnCheckpoint(rows)
	}
}

// spool makes src randomly accessible, copying it to a scratch file when it
// is not already. The returned release func is always safe to call.
func spool(src io.Reader, opts Options) (parquet.ReaderAtSeeker, func(), error) {
	if ras, ok := src.(parquet.ReaderAtSeeker); ok {
		return ras, func() {}, nil
	}

	tmp, err := os.CreateTemp(opts.SpoolDir, "match-import-*.parquet")
	if err != nil {
		return nil, nil, fmt.Errorf("create spool file: %w", err)
	}
	release := func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			opts.Logger.Warn("remove spool file failed", slog.String("path", tmp.Name()), slog.Any("error", err))
		}
	}

	n, err := io.Copy(tmp, io.LimitReader(src, opts.MaxSpoolBytes+1))
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("spool input: %w", err)
	}
	if n > opts.MaxSpoolBytes {
		release()
		return nil, nil, fmt.Errorf("%w: more than %d bytes", ErrInputTooLarge, opts.MaxSpoolBytes)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		release()
		return nil, nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return tmp, release, nil
}

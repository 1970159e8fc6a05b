// Package columnartest builds Parquet fixtures for tests.
package columnartest

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// Column is one fixture column. Exactly one of Strings or Floats is set.
// Valid marks non-null cells; nil means all cells are present.
type Column struct {
	Name    string
	Strings []string
	Floats  []float64
	Valid   []bool
}

func Strings(name string, values ...string) Column {
	return Column{Name: name, Strings: values}
}

func Floats(name string, values ...float64) Column {
	return Column{Name: name, Floats: values}
}

func (c Column) len() int {
	if c.Floats != nil {
		return len(c.Floats)
	}
	return len(c.Strings)
}

// Build encodes the columns as a Parquet file. Rows are split into row
// groups of rowGroupSize (0 means one group).
func Build(tb testing.TB, rowGroupSize int64, cols ...Column) []byte {
	tb.Helper()

	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, len(cols))
	arrays := make([]arrow.Array, len(cols))
	var rows int64
	for i, c := range cols {
		rows = int64(c.len())
		if c.Floats != nil {
			fields[i] = arrow.Field{Name: c.Name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
			b := array.NewFloat64Builder(mem)
			b.AppendValues(c.Floats, c.Valid)
			arrays[i] = b.NewArray()
			b.Release()
			continue
		}
		fields[i] = arrow.Field{Name: c.Name, Type: arrow.BinaryTypes.String, Nullable: true}
		b := array.NewStringBuilder(mem)
		b.AppendValues(c.Strings, c.Valid)
		arrays[i] = b.NewArray()
		b.Release()
	}

	schema := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(schema, arrays, rows)
	defer rec.Release()
	for _, a := range arrays {
		a.Release()
	}
	table := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer table.Release()

	if rowGroupSize <= 0 {
		rowGroupSize = rows
	}
	if rowGroupSize <= 0 {
		rowGroupSize = 1
	}

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithDictionaryDefault(false))
	if err := pqarrow.WriteTable(table, &buf, rowGroupSize, props, pqarrow.DefaultWriterProps()); err != nil {
		tb.Fatalf("write parquet fixture: %v", err)
	}
	return buf.Bytes()
}

// Suggestions builds a file with the standard participant columns.
func Suggestions(tb testing.TB, groupID string, rows ...[3]string) []byte {
	tb.Helper()

	groups := make([]string, len(rows))
	refs := make([]string, len(rows))
	matched := make([]string, len(rows))
	scores := make([]string, len(rows))
	for i, r := range rows {
		groups[i] = groupID
		refs[i] = r[0]
		matched[i] = r[1]
		scores[i] = r[2]
	}
	return Build(tb, 0,
		Strings("group_id", groups...),
		Strings("reference_id", refs...),
		Strings("matched_participant_id", matched...),
		Strings("compatibility_score", scores...),
	)
}

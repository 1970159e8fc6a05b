package columnar

import (
	"fmt"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"github.com/zeebo/xxh3"
)

// Reserved column names. They are matched case-sensitively.
const (
	FieldGroupID     = "group_id"
	FieldReferenceID = "reference_id"
	FieldType        = "type"
)

// fieldIndex is the validated column layout of one schema shape.
type fieldIndex struct {
	groupID     int
	referenceID int
	kind        int // -1 when the file has no type column
	metadata    []metadataColumn
}

type metadataColumn struct {
	name  string
	index int
}

type schemaEntry struct {
	index *fieldIndex
	err   error
}

// SchemaCache memoizes schema validation by fingerprint. The zero value is
// ready to use and safe for concurrent use.
type SchemaCache struct {
	entries sync.Map // uint64 -> schemaEntry
}

var defaultSchemaCache = &SchemaCache{}

// Fingerprint hashes the schema definition: field names, types and
// nullability in column order.
func Fingerprint(schema *arrow.Schema) uint64 {
	var b strings.Builder
	for _, f := range schema.Fields() {
		fmt.Fprintf(&b, "%s:%s:%t;", f.Name, f.Type, f.Nullable)
	}
	return xxh3.HashString(b.String())
}

func (c *SchemaCache) lookup(schema *arrow.Schema) (*fieldIndex, bool, error) {
	key := Fingerprint(schema)
	if v, ok := c.entries.Load(key); ok {
		e := v.(schemaEntry)
		return e.index, true, e.err
	}

	idx, err := buildFieldIndex(schema)
	v, _ := c.entries.LoadOrStore(key, schemaEntry{index: idx, err: err})
	e := v.(schemaEntry)
	return e.index, false, e.err
}

// Len reports the number of cached schema shapes.
func (c *SchemaCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func buildFieldIndex(schema *arrow.Schema) (*fieldIndex, error) {
	idx := &fieldIndex{groupID: -1, referenceID: -1, kind: -1}
	for i, f := range schema.Fields() {
		switch f.Name {
		case FieldGroupID:
			idx.groupID = i
		case FieldReferenceID:
			idx.referenceID = i
		case FieldType:
			idx.kind = i
		default:
			idx.metadata = append(idx.metadata, metadataColumn{name: f.Name, index: i})
		}
	}

	var missing []string
	if idx.groupID < 0 {
		missing = append(missing, FieldGroupID)
	}
	if idx.referenceID < 0 {
		missing = append(missing, FieldReferenceID)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrSchema, strings.Join(missing, ", "))
	}
	return idx, nil
}

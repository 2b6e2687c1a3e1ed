// Package chunk defines Chunk, the immutable columnar unit of ingest: one
// entity, N rows, M components, K timelines, addressed by a content ID.
package chunk

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
	"rerun-core/internal/rowid"
)

var (
	// ErrUnsortedChunk is returned when a caller tries to insert a chunk
	// whose rows are not sorted by RowId; recoverable via SortIfUnsorted.
	ErrUnsortedChunk = errors.New("chunk: rows not sorted by row id")
	// ErrColumnLengthMismatch indicates a chunk was constructed with
	// columns of differing lengths; every column must have exactly N rows.
	ErrColumnLengthMismatch = errors.New("chunk: column length does not match row count")
)

// chunkIDEncoding is base32hex (RFC 4648) lowercase without padding. The
// alphabet (0-9a-v) preserves lexicographic sort order, so ChunkID strings
// sort the same as the underlying bytes.
var chunkIDEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ID uniquely identifies a chunk. It is a UUIDv7 (16 bytes) whose string
// form is a 26-char lowercase base32hex string, sortable by creation time.
type ID [16]byte

// NewID mints a fresh ChunkID from a new UUIDv7.
func NewID() ID { return ID(uuid.Must(uuid.NewV7())) }

// ParseID parses a 26-character base32hex string into an ID.
func ParseID(s string) (ID, error) {
	if len(s) != 26 {
		return ID{}, fmt.Errorf("chunk: invalid id length %d (want 26)", len(s))
	}
	decoded, err := chunkIDEncoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return ID{}, fmt.Errorf("chunk: invalid id: %w", err)
	}
	var id ID
	copy(id[:], decoded)
	return id, nil
}

func (id ID) String() string {
	return strings.ToLower(chunkIDEncoding.EncodeToString(id[:]))
}

// Time returns the creation time embedded in the UUIDv7 ID.
func (id ID) Time() time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms)
}

// Cell is one row's value for one component column. nil means the row did
// not touch this component ("null"). A non-nil empty slice is an explicit
// clear. A single-element slice is a splat (broadcast to every instance).
// A K-element slice is a full per-instance batch.
type Cell []any

// IsNull reports whether the cell represents "row didn't touch this
// component", as opposed to an explicit (possibly empty) clear.
func (c Cell) IsNull() bool { return c == nil }

// ComponentColumn is a list-typed column: one Cell per row.
type ComponentColumn struct {
	Cells []Cell
}

// HeapSizeBytes estimates the deep allocation size of the column.
func (c ComponentColumn) HeapSizeBytes() uint64 {
	var n uint64
	for _, cell := range c.Cells {
		n += uint64(cap(cell)) * 16 // rough per-element interface overhead
	}
	return n
}

// TimeColumn is one timeline's values, one TimeInt per row.
type TimeColumn struct {
	Timeline component.Timeline
	Times    []component.TimeInt
	IsSorted bool
}

// HeapSizeBytes estimates the deep allocation size of the column.
func (c TimeColumn) HeapSizeBytes() uint64 {
	return uint64(cap(c.Times)) * 8
}

// MinMax returns the smallest and largest time in the column. Panics if
// the column is empty; callers must check NumRows first.
func (c TimeColumn) MinMax() (min, max component.TimeInt) {
	min, max = c.Times[0], c.Times[0]
	for _, t := range c.Times[1:] {
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	return min, max
}

// Chunk is an immutable, self-describing columnar record batch for a
// single entity. Once constructed it is never mutated; operations return
// new Chunks, cheaply sharing backing column storage where possible.
type Chunk struct {
	ChunkID    ID
	EntityPath entitypath.Path
	IsSorted   bool

	RowIDs     []rowid.RowId
	Timelines  map[string]TimeColumn
	Components map[component.Descriptor]ComponentColumn
}

// New constructs a Chunk, validating that every column has exactly
// len(rowIDs) entries.
func New(id ID, path entitypath.Path, rowIDs []rowid.RowId, timelines map[string]TimeColumn, components map[component.Descriptor]ComponentColumn) (*Chunk, error) {
	n := len(rowIDs)
	for name, tc := range timelines {
		if len(tc.Times) != n {
			return nil, fmt.Errorf("%w: timeline %q has %d rows, chunk has %d", ErrColumnLengthMismatch, name, len(tc.Times), n)
		}
	}
	for desc, cc := range components {
		if len(cc.Cells) != n {
			return nil, fmt.Errorf("%w: component %q has %d rows, chunk has %d", ErrColumnLengthMismatch, desc, len(cc.Cells), n)
		}
	}
	return &Chunk{
		ChunkID:    id,
		EntityPath: path,
		IsSorted:   isRowIDSorted(rowIDs),
		RowIDs:     rowIDs,
		Timelines:  timelines,
		Components: components,
	}, nil
}

// NumRows returns the row count of the chunk.
func (c *Chunk) NumRows() int { return len(c.RowIDs) }

// IsStatic reports whether this chunk carries no timelines, making it the
// "always-valid" overlay for its (entity, component) pairs.
func (c *Chunk) IsStatic() bool { return len(c.Timelines) == 0 }

func isRowIDSorted(rowIDs []rowid.RowId) bool {
	for i := 1; i < len(rowIDs); i++ {
		if rowid.Less(rowIDs[i], rowIDs[i-1]) {
			return false
		}
	}
	return true
}

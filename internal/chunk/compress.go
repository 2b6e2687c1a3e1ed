package chunk

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
	"rerun-core/internal/rowid"
)

// Compressed is a zstd-compressed msgpack encoding of a Chunk's component
// columns, suitable for holding cold or GC-protected chunks at a fraction
// of their live heap cost. It carries enough of the chunk's identity to
// be decompressed back into an equivalent Chunk without consulting the
// original.
type Compressed struct {
	ChunkID    ID
	EntityPath string // entitypath.Path.String(); reparsed on Decompress
	IsSorted   bool
	RowIDs     []RowIDBytes
	Timelines  map[string]CompressedTimeColumn
	Payload    []byte // zstd-compressed msgpack of the component columns
}

// RowIDBytes is the msgpack-friendly mirror of rowid.RowId.
type RowIDBytes struct {
	TimeNs  uint64
	Counter uint64
}

// CompressedTimeColumn is a plain, msgpack-friendly mirror of TimeColumn.
type CompressedTimeColumn struct {
	TimelineName string
	TimelineType int
	Times        []int64
	IsSorted     bool
}

// componentColumnsWire is the msgpack payload shape: component descriptor
// triples can't be map keys in msgpack, so they're flattened to a slice.
type componentColumnsWire struct {
	Archetype     []string
	ComponentName []string
	ComponentType []string
	Cells         [][]Cell
}

// Compress encodes c's component columns into a zstd-compressed msgpack
// blob, returning a Compressed suitable for cheap cold storage. Row ids
// and timelines are kept uncompressed (small, and needed for index
// rehydration without a full decompress).
func (c *Chunk) Compress() (*Compressed, error) {
	wire := componentColumnsWire{}
	for desc, cc := range c.Components {
		wire.Archetype = append(wire.Archetype, desc.Archetype)
		wire.ComponentName = append(wire.ComponentName, desc.ComponentName)
		wire.ComponentType = append(wire.ComponentType, desc.ComponentType)
		wire.Cells = append(wire.Cells, cc.Cells)
	}

	raw, err := msgpack.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("chunk: marshal components: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("chunk: create zstd encoder: %w", err)
	}
	defer enc.Close()
	payload := enc.EncodeAll(raw, nil)

	out := &Compressed{
		ChunkID:    c.ChunkID,
		EntityPath: c.EntityPath.String(),
		IsSorted:   c.IsSorted,
		RowIDs:     make([]RowIDBytes, len(c.RowIDs)),
		Timelines:  make(map[string]CompressedTimeColumn, len(c.Timelines)),
		Payload:    payload,
	}
	for i, id := range c.RowIDs {
		out.RowIDs[i] = RowIDBytes{TimeNs: id.TimeNs, Counter: id.Counter}
	}
	for name, tc := range c.Timelines {
		times := make([]int64, len(tc.Times))
		for i, t := range tc.Times {
			times[i] = int64(t)
		}
		out.Timelines[name] = CompressedTimeColumn{
			TimelineName: tc.Timeline.Name,
			TimelineType: int(tc.Timeline.Type),
			Times:        times,
			IsSorted:     tc.IsSorted,
		}
	}
	return out, nil
}

// Decompress reverses Compress, rebuilding an equivalent Chunk.
func (c *Compressed) Decompress() (*Chunk, error) {
	path := entitypath.Parse(c.EntityPath)

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("chunk: create zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(c.Payload, nil)
	if err != nil {
		return nil, fmt.Errorf("chunk: decompress payload: %w", err)
	}

	var wire componentColumnsWire
	if err := msgpack.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("chunk: unmarshal components: %w", err)
	}

	rowIDs := make([]rowid.RowId, len(c.RowIDs))
	for i, rb := range c.RowIDs {
		rowIDs[i] = rowid.RowId{TimeNs: rb.TimeNs, Counter: rb.Counter}
	}

	timelines := make(map[string]TimeColumn, len(c.Timelines))
	for name, tc := range c.Timelines {
		times := make([]component.TimeInt, len(tc.Times))
		for i, t := range tc.Times {
			times[i] = component.TimeInt(t)
		}
		timelines[name] = TimeColumn{
			Timeline: component.Timeline{Name: tc.TimelineName, Type: component.TimeType(tc.TimelineType)},
			Times:    times,
			IsSorted: tc.IsSorted,
		}
	}

	components := make(map[component.Descriptor]ComponentColumn, len(wire.Archetype))
	for i := range wire.Archetype {
		desc := component.Descriptor{
			Archetype:     wire.Archetype[i],
			ComponentName: wire.ComponentName[i],
			ComponentType: wire.ComponentType[i],
		}
		components[desc] = ComponentColumn{Cells: wire.Cells[i]}
	}

	out, err := New(c.ChunkID, path, rowIDs, timelines, components)
	if err != nil {
		return nil, err
	}
	out.IsSorted = c.IsSorted
	return out, nil
}

// HeapSizeBytes estimates the compressed representation's resident size:
// the compressed payload plus the uncompressed row-id and timeline
// columns kept alongside it.
func (c *Compressed) HeapSizeBytes() uint64 {
	n := uint64(len(c.Payload))
	n += uint64(len(c.RowIDs)) * 16
	for _, tc := range c.Timelines {
		n += uint64(len(tc.Times)) * 8
	}
	return n
}

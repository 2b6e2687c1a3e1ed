// Package chunk — operations. See types.go for the Chunk data model.
package chunk

import (
	"sort"

	"rerun-core/internal/component"
	"rerun-core/internal/rowid"
)

// LatestAtQuery selects a single row on a timeline.
type LatestAtQuery struct {
	Timeline string
	At       component.TimeInt
}

// RangeQuery selects every row whose time on Timeline falls in Range.
type RangeQuery struct {
	Timeline string
	Range    component.Range
}

// SortIfUnsorted returns a Chunk with rows stably sorted by RowId. It is
// idempotent: calling it on an already-sorted chunk returns the receiver
// unchanged (no copy).
func (c *Chunk) SortIfUnsorted() *Chunk {
	if c.IsSorted {
		return c
	}

	n := c.NumRows()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return rowid.Less(c.RowIDs[order[i]], c.RowIDs[order[j]])
	})

	out := &Chunk{
		ChunkID:    c.ChunkID,
		EntityPath: c.EntityPath,
		IsSorted:   true,
		RowIDs:     permuteRowIDs(c.RowIDs, order),
		Timelines:  make(map[string]TimeColumn, len(c.Timelines)),
		Components: make(map[component.Descriptor]ComponentColumn, len(c.Components)),
	}
	for name, tc := range c.Timelines {
		out.Timelines[name] = TimeColumn{
			Timeline: tc.Timeline,
			Times:    permuteTimes(tc.Times, order),
			IsSorted: tc.IsSorted,
		}
	}
	for desc, cc := range c.Components {
		out.Components[desc] = ComponentColumn{Cells: permuteCells(cc.Cells, order)}
	}
	return out
}

func permuteRowIDs(src []rowid.RowId, order []int) []rowid.RowId {
	out := make([]rowid.RowId, len(order))
	for i, j := range order {
		out[i] = src[j]
	}
	return out
}

func permuteTimes(src []component.TimeInt, order []int) []component.TimeInt {
	out := make([]component.TimeInt, len(order))
	for i, j := range order {
		out[i] = src[j]
	}
	return out
}

func permuteCells(src []Cell, order []int) []Cell {
	out := make([]Cell, len(order))
	for i, j := range order {
		out[i] = src[j]
	}
	return out
}

// Range returns a new chunk containing the subset of rows whose time on
// query.Timeline falls within query.Range, preserving row order. Rows
// that are null for the requested component are dropped. Returns an
// empty chunk (zero rows) if the chunk has no such timeline, or no row
// matches.
func (c *Chunk) Range(query RangeQuery, desc component.Descriptor) *Chunk {
	tc, ok := c.Timelines[query.Timeline]
	if !ok {
		return c.emptyLike()
	}
	cc, hasComponent := c.Components[desc]

	var idxs []int
	for i, t := range tc.Times {
		if !query.Range.Contains(t) {
			continue
		}
		if hasComponent && cc.Cells[i].IsNull() {
			continue
		}
		if !hasComponent {
			continue
		}
		idxs = append(idxs, i)
	}
	return c.projectRows(idxs)
}

// LatestAt returns a one-row chunk holding the row with the greatest
// (time, RowId) such that time <= query.At on query.Timeline and the row
// is non-null for the requested component. Returns an empty chunk if no
// such row exists.
func (c *Chunk) LatestAt(query LatestAtQuery, desc component.Descriptor) *Chunk {
	tc, ok := c.Timelines[query.Timeline]
	if !ok {
		return c.emptyLike()
	}
	cc, hasComponent := c.Components[desc]
	if !hasComponent {
		return c.emptyLike()
	}

	best := -1
	for i, t := range tc.Times {
		if t > query.At {
			continue
		}
		if cc.Cells[i].IsNull() {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		if betterLatestAt(t, c.RowIDs[i], tc.Times[best], c.RowIDs[best]) {
			best = i
		}
	}
	if best == -1 {
		return c.emptyLike()
	}
	return c.projectRows([]int{best})
}

// betterLatestAt reports whether candidate (t, id) should replace the
// current best (bestT, bestID) under the (time, RowId) maximization rule.
func betterLatestAt(t component.TimeInt, id rowid.RowId, bestT component.TimeInt, bestID rowid.RowId) bool {
	if t != bestT {
		return t > bestT
	}
	return rowid.Less(bestID, id)
}

// StaticLatest returns a one-row chunk holding the row with the greatest
// RowId among non-null cells for desc. Intended for static (timeline-less)
// chunks, where "latest" is ordered purely by RowId. Returns an empty
// chunk if the chunk carries no such component or every cell is null.
func (c *Chunk) StaticLatest(desc component.Descriptor) *Chunk {
	cc, ok := c.Components[desc]
	if !ok {
		return c.emptyLike()
	}
	best := -1
	for i, cell := range cc.Cells {
		if cell.IsNull() {
			continue
		}
		if best == -1 || rowid.Less(c.RowIDs[best], c.RowIDs[i]) {
			best = i
		}
	}
	if best == -1 {
		return c.emptyLike()
	}
	return c.projectRows([]int{best})
}

// TimelineSliced returns a projection containing only the named timeline,
// sharing the chunk's component and row-id buffers.
func (c *Chunk) TimelineSliced(name string) *Chunk {
	out := &Chunk{
		ChunkID:    c.ChunkID,
		EntityPath: c.EntityPath,
		IsSorted:   c.IsSorted,
		RowIDs:     c.RowIDs,
		Components: c.Components,
		Timelines:  map[string]TimeColumn{},
	}
	if tc, ok := c.Timelines[name]; ok {
		out.Timelines[name] = tc
	}
	return out
}

// ComponentSliced returns a projection containing only the named
// component, sharing the chunk's timeline and row-id buffers.
func (c *Chunk) ComponentSliced(desc component.Descriptor) *Chunk {
	out := &Chunk{
		ChunkID:    c.ChunkID,
		EntityPath: c.EntityPath,
		IsSorted:   c.IsSorted,
		RowIDs:     c.RowIDs,
		Timelines:  c.Timelines,
		Components: map[component.Descriptor]ComponentColumn{},
	}
	if cc, ok := c.Components[desc]; ok {
		out.Components[desc] = cc
	}
	return out
}

// HeapSizeBytes reports a deep allocation-size estimate for GC accounting.
func (c *Chunk) HeapSizeBytes() uint64 {
	var n uint64
	n += uint64(cap(c.RowIDs)) * 16
	for _, tc := range c.Timelines {
		n += tc.HeapSizeBytes()
	}
	for _, cc := range c.Components {
		n += cc.HeapSizeBytes()
	}
	return n
}

// projectRows builds a new chunk containing exactly the given row indices,
// in the given order, across every column.
func (c *Chunk) projectRows(idxs []int) *Chunk {
	out := &Chunk{
		ChunkID:    c.ChunkID,
		EntityPath: c.EntityPath,
		IsSorted:   true,
		RowIDs:     make([]rowid.RowId, len(idxs)),
		Timelines:  make(map[string]TimeColumn, len(c.Timelines)),
		Components: make(map[component.Descriptor]ComponentColumn, len(c.Components)),
	}
	for i, j := range idxs {
		out.RowIDs[i] = c.RowIDs[j]
	}
	for name, tc := range c.Timelines {
		times := make([]component.TimeInt, len(idxs))
		for i, j := range idxs {
			times[i] = tc.Times[j]
		}
		out.Timelines[name] = TimeColumn{Timeline: tc.Timeline, Times: times, IsSorted: tc.IsSorted}
	}
	for desc, cc := range c.Components {
		cells := make([]Cell, len(idxs))
		for i, j := range idxs {
			cells[i] = cc.Cells[j]
		}
		out.Components[desc] = ComponentColumn{Cells: cells}
	}
	return out
}

// emptyLike returns a zero-row chunk sharing this chunk's identity and
// schema shape but with no rows in any column.
func (c *Chunk) emptyLike() *Chunk {
	return c.projectRows(nil)
}

// Package compactor implements opportunistic merging of small adjacent
// chunks within the same index bucket, amortizing per-chunk overhead for
// SDK batchers that emit many tiny chunks. Compaction is purely a
// performance optimization: correctness never depends on it (spec.md
// §4.7), and the policy-object shape here mirrors a
// rotation-policy idiom (when to seal) generalized to "whether two chunks
// should merge".
package compactor

import (
	"sort"

	"rerun-core/internal/chunk"
	"rerun-core/internal/component"
	"rerun-core/internal/rowid"
)

// Limits bounds what a merge may produce. A candidate neighbor is only
// merged if the result would stay within both bounds.
type Limits struct {
	MaxBytes uint64
	MaxRows  uint64
}

// Compactor picks at most one adjacent existing chunk to merge an
// incoming chunk into, per insert.
type Compactor struct {
	limits  Limits
	enabled bool
}

// New creates a Compactor. A zero MaxBytes or MaxRows leaves that bound
// unchecked, so Limits{} merges without limit. To turn merging off, use
// SetEnabled(false) / ChunkStoreConfig's COMPACTION_DISABLED at the store
// layer.
func New(limits Limits) *Compactor {
	return &Compactor{limits: limits, enabled: true}
}

// SetEnabled toggles compaction. Disabling does not affect chunks already
// merged; it only stops future Offer calls from merging.
func (c *Compactor) SetEnabled(enabled bool) { c.enabled = enabled }

// Enabled reports whether compaction is currently active.
func (c *Compactor) Enabled() bool { return c.enabled }

// Offer considers merging incoming into one of candidates (existing chunks
// already resident in the bucket incoming would be inserted into,
// typically just the most recently inserted chunk for the same entity).
// It returns the merged chunk and the id of the chunk it replaced, or
// (nil, zero, false) if no candidate was merged with — in which case the
// caller must insert incoming unmodified.
func (c *Compactor) Offer(incoming *chunk.Chunk, candidates []*chunk.Chunk) (merged *chunk.Chunk, replaced chunk.ID, ok bool) {
	if !c.enabled {
		return nil, chunk.ID{}, false
	}
	for _, cand := range candidates {
		if !cand.EntityPath.Equal(incoming.EntityPath) {
			continue
		}
		if cand.IsStatic() != incoming.IsStatic() {
			continue
		}
		m, fits := c.tryMerge(cand, incoming)
		if !fits {
			continue
		}
		return m, cand.ChunkID, true
	}
	return nil, chunk.ID{}, false
}

// tryMerge merges a and b if the result fits within the configured
// Limits, returning (nil, false) otherwise.
func (c *Compactor) tryMerge(a, b *chunk.Chunk) (*chunk.Chunk, bool) {
	n := a.NumRows() + b.NumRows()
	if c.limits.MaxRows > 0 && uint64(n) > c.limits.MaxRows { //nolint:gosec // G115: n is a row count, never large enough to overflow
		return nil, false
	}
	projectedBytes := a.HeapSizeBytes() + b.HeapSizeBytes()
	if c.limits.MaxBytes > 0 && projectedBytes > c.limits.MaxBytes {
		return nil, false
	}

	merged := Merge(a, b)
	if c.limits.MaxBytes > 0 && merged.HeapSizeBytes() > c.limits.MaxBytes {
		return nil, false
	}
	return merged, true
}

// Merge unconditionally merges two chunks of the same entity into one
// fresh-ChunkID chunk: the union of components and timelines, rows sorted
// by RowId. Constituent RowIds are preserved (spec.md §4.7).
func Merge(a, b *chunk.Chunk) *chunk.Chunk {
	n := a.NumRows() + b.NumRows()
	rowIDs := make([]rowid.RowId, 0, n)
	rowIDs = append(rowIDs, a.RowIDs...)
	rowIDs = append(rowIDs, b.RowIDs...)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return rowid.Less(rowIDs[order[i]], rowIDs[order[j]]) })

	sortedRowIDs := make([]rowid.RowId, n)
	for i, j := range order {
		sortedRowIDs[i] = rowIDs[j]
	}

	timelineNames := unionTimelineNames(a, b)

	mergedTimelines := make(map[string][]component.TimeInt, len(timelineNames))
	for name := range timelineNames {
		merged := make([]component.TimeInt, 0, n)
		merged = append(merged, columnOrZeros(a, name, a.NumRows())...)
		merged = append(merged, columnOrZeros(b, name, b.NumRows())...)
		reordered := make([]component.TimeInt, n)
		for i, j := range order {
			reordered[i] = merged[j]
		}
		mergedTimelines[name] = reordered
	}

	descs := unionDescriptors(a, b)
	mergedComponents := make(map[component.Descriptor]chunk.ComponentColumn, len(descs))
	for _, desc := range descs {
		cells := make([]chunk.Cell, 0, n)
		cells = append(cells, cellsOrNil(a, desc, a.NumRows())...)
		cells = append(cells, cellsOrNil(b, desc, b.NumRows())...)
		reordered := make([]chunk.Cell, n)
		for i, j := range order {
			reordered[i] = cells[j]
		}
		mergedComponents[desc] = chunk.ComponentColumn{Cells: reordered}
	}

	timelineCols := make(map[string]chunk.TimeColumn, len(mergedTimelines))
	for name, times := range mergedTimelines {
		tl := a.Timelines[name].Timeline
		if len(a.Timelines) == 0 {
			tl = b.Timelines[name].Timeline
		}
		timelineCols[name] = chunk.TimeColumn{Timeline: tl, Times: times}
	}

	out, err := chunk.New(chunk.NewID(), a.EntityPath, sortedRowIDs, timelineCols, mergedComponents)
	if err != nil {
		// Column lengths are constructed consistently above; a mismatch
		// here would be a bug in this function, not a caller error.
		panic(err)
	}
	return out.SortIfUnsorted()
}

func unionTimelineNames(a, b *chunk.Chunk) map[string]struct{} {
	out := make(map[string]struct{}, len(a.Timelines)+len(b.Timelines))
	for name := range a.Timelines {
		out[name] = struct{}{}
	}
	for name := range b.Timelines {
		out[name] = struct{}{}
	}
	return out
}

func unionDescriptors(a, b *chunk.Chunk) []component.Descriptor {
	seen := make(map[component.Descriptor]struct{}, len(a.Components)+len(b.Components))
	var out []component.Descriptor
	for d := range a.Components {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	for d := range b.Components {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

func columnOrZeros(c *chunk.Chunk, name string, n int) []component.TimeInt {
	if tc, ok := c.Timelines[name]; ok {
		return tc.Times
	}
	// The other chunk didn't carry this timeline at all (can only happen
	// when merging a chunk that has it with one that doesn't, which the
	// Offer entry point never does for static/temporal mismatches, but
	// defensive here since Merge is also exported standalone).
	out := make([]component.TimeInt, n)
	for i := range out {
		out[i] = component.MinTime
	}
	return out
}

func cellsOrNil(c *chunk.Chunk, desc component.Descriptor, n int) []chunk.Cell {
	if cc, ok := c.Components[desc]; ok {
		return cc.Cells
	}
	return make([]chunk.Cell, n)
}

// Package query implements the two primitive read operations over a
// store's chunks: latest-at and range. It never materializes a whole
// store; it consults a chunkindex.Index to find the minimal set of
// candidate chunks, then slices them.
//
// The shape generalizes the teacher's time-bounded scanner/plan split
// (internal/query/scanner.go, plan.go) from a text-search-oriented term
// scan to the data model's latest-at/range primitives.
package query

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"rerun-core/internal/chunk"
	"rerun-core/internal/chunkindex"
	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
	"rerun-core/internal/rowid"
)

// ErrAmbiguousLatestAt is returned when two candidate rows tie on both
// time and RowId — something that can only happen if a RowId was reused,
// which the store is supposed to reject at insert time (spec.md §4.4).
var ErrAmbiguousLatestAt = fmt.Errorf("query: ambiguous latest-at result (duplicate row id)")

// ChunkSource resolves a chunk.ID to the live chunk it identifies. A
// ChunkStore implements this; the query engine never owns chunks itself.
type ChunkSource interface {
	GetChunk(id chunk.ID) (*chunk.Chunk, bool)
}

// SparseFill selects how a Range query handles the gap before its lower
// bound.
type SparseFill int

const (
	// SparseFillNone returns only rows within the requested range.
	SparseFillNone SparseFill = iota
	// SparseFillLatestAtGlobal additionally carries in the latest-at
	// result at (range.Min - 1) as the first row, if one exists.
	SparseFillLatestAtGlobal
)

// LatestAtRequest is the input to LatestAt.
type LatestAtRequest struct {
	Entity    entitypath.Path
	Component component.Descriptor
	Timeline  string
	At        component.TimeInt
}

// RangeRequest is the input to Range.
type RangeRequest struct {
	Entity     entitypath.Path
	Component  component.Descriptor
	Timeline   string
	Range      component.Range
	SparseFill SparseFill
}

// Engine evaluates queries against an Index and a ChunkSource.
type Engine struct {
	idx    *chunkindex.Index
	source ChunkSource
}

// New creates an Engine over idx and source.
func New(idx *chunkindex.Index, source ChunkSource) *Engine {
	return &Engine{idx: idx, source: source}
}

// LatestAt resolves a single row: the static overlay chunk's sole row if
// one exists for (entity, component), otherwise the temporal row with
// maximal (time, RowId) at or before req.At. Returns a zero-row chunk
// (not an error) if neither exists.
func (e *Engine) LatestAt(ctx context.Context, req LatestAtRequest) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if staticID, ok := e.idx.StaticChunk(req.Entity, req.Component); ok {
		c, ok := e.source.GetChunk(staticID)
		if !ok {
			return nil, fmt.Errorf("query: static chunk %s missing from source", staticID)
		}
		return c.StaticLatest(req.Component), nil
	}

	ids := e.idx.LatestAtRelevantChunks(req.Entity, req.Component, req.Timeline, req.At)
	var best *chunk.Chunk
	for _, id := range ids {
		c, ok := e.source.GetChunk(id)
		if !ok {
			continue
		}
		cand := c.LatestAt(chunk.LatestAtQuery{Timeline: req.Timeline, At: req.At}, req.Component)
		if cand.NumRows() == 0 {
			continue
		}
		if best == nil {
			best = cand
			continue
		}
		merged, err := mergeBestOfTwo(best, cand)
		if err != nil {
			return nil, err
		}
		best = merged
	}
	if best == nil {
		return emptyResult(req.Entity), nil
	}
	return best, nil
}

// mergeBestOfTwo picks whichever of two single-row latest-at results has
// the greater (time, RowId), erroring if they tie on both (reused RowId).
func mergeBestOfTwo(a, b *chunk.Chunk) (*chunk.Chunk, error) {
	at := singleRowTime(a)
	bt := singleRowTime(b)
	aID, bID := a.RowIDs[0], b.RowIDs[0]
	if at == bt && aID == bID {
		return nil, ErrAmbiguousLatestAt
	}
	if at != bt {
		if at > bt {
			return a, nil
		}
		return b, nil
	}
	if rowid.Less(aID, bID) {
		return b, nil
	}
	return a, nil
}

// singleRowTime returns the time value of a one-row chunk's sole
// timeline (a LatestAt result always carries exactly one timeline).
func singleRowTime(c *chunk.Chunk) component.TimeInt {
	for _, tc := range c.Timelines {
		return tc.Times[0]
	}
	return component.MinTime
}

// Range resolves every row within req.Range on (entity, component,
// timeline), sorted by (time, RowId), optionally preceded by a carry-in
// row per req.SparseFill.
func (e *Engine) Range(ctx context.Context, req RangeRequest) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	carryIn := req.SparseFill == SparseFillLatestAtGlobal
	ids := e.idx.RangeRelevantChunks(req.Entity, req.Component, req.Timeline, req.Range, false)

	var parts []*chunk.Chunk
	for _, id := range ids {
		c, ok := e.source.GetChunk(id)
		if !ok {
			continue
		}
		sliced := c.Range(chunk.RangeQuery{Timeline: req.Timeline, Range: req.Range}, req.Component)
		if sliced.NumRows() > 0 {
			parts = append(parts, sliced)
		}
	}

	if carryIn && req.Range.Min > component.MinTime {
		lat, err := e.LatestAt(ctx, LatestAtRequest{
			Entity: req.Entity, Component: req.Component, Timeline: req.Timeline, At: req.Range.Min - 1,
		})
		if err != nil {
			return nil, err
		}
		if lat.NumRows() > 0 {
			// lat's sole row is either a temporal row on req.Timeline,
			// whose time is strictly < req.Range.Min, or the static
			// overlay row when one exists for (entity, component), which
			// has no column on req.Timeline and sorts as MinTime. Either
			// way the time-sort below places it first.
			parts = append([]*chunk.Chunk{lat}, parts...)
		}
	}

	return concatSortedByTime(req.Entity, req.Timeline, parts), nil
}

// concatSortedByTime concatenates row-disjoint chunk slices into one
// chunk whose rows are ordered by (time on `timeline`, RowId). Unlike
// compactor.Merge (which orders purely by RowId, appropriate for storage
// compaction), a query result must reflect the requested timeline's
// natural order.
func concatSortedByTime(entity entitypath.Path, timeline string, parts []*chunk.Chunk) *chunk.Chunk {
	if len(parts) == 0 {
		return emptyResult(entity)
	}

	n := 0
	for _, p := range parts {
		n += p.NumRows()
	}

	rowIDs := make([]rowid.RowId, 0, n)
	times := make([]component.TimeInt, 0, n)
	timelineNames := make(map[string]struct{})
	descs := make(map[component.Descriptor]struct{})
	for _, p := range parts {
		for name := range p.Timelines {
			timelineNames[name] = struct{}{}
		}
		for d := range p.Components {
			descs[d] = struct{}{}
		}
	}

	cellCols := make(map[component.Descriptor][]chunk.Cell, len(descs))
	for d := range descs {
		cellCols[d] = make([]chunk.Cell, 0, n)
	}
	timeCols := make(map[string][]component.TimeInt, len(timelineNames))
	for name := range timelineNames {
		timeCols[name] = make([]component.TimeInt, 0, n)
	}

	for _, p := range parts {
		rowIDs = append(rowIDs, p.RowIDs...)
		if tc, ok := p.Timelines[timeline]; ok {
			times = append(times, tc.Times...)
		} else {
			for range p.RowIDs {
				times = append(times, component.MinTime)
			}
		}
		for name := range timelineNames {
			if tc, ok := p.Timelines[name]; ok {
				timeCols[name] = append(timeCols[name], tc.Times...)
			} else {
				for range p.RowIDs {
					timeCols[name] = append(timeCols[name], component.MinTime)
				}
			}
		}
		for d := range descs {
			if cc, ok := p.Components[d]; ok {
				cellCols[d] = append(cellCols[d], cc.Cells...)
			} else {
				for range p.RowIDs {
					cellCols[d] = append(cellCols[d], nil)
				}
			}
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		oi, oj := order[i], order[j]
		if times[oi] != times[oj] {
			return times[oi] < times[oj]
		}
		return rowid.Less(rowIDs[oi], rowIDs[oj])
	})

	outRowIDs := make([]rowid.RowId, n)
	for i, j := range order {
		outRowIDs[i] = rowIDs[j]
	}
	outTimelines := make(map[string]chunk.TimeColumn, len(timeCols))
	for name, col := range timeCols {
		reordered := make([]component.TimeInt, n)
		for i, j := range order {
			reordered[i] = col[j]
		}
		tl := firstTimelineDescriptor(parts, name)
		outTimelines[name] = chunk.TimeColumn{Timeline: tl, Times: reordered}
	}
	outComponents := make(map[component.Descriptor]chunk.ComponentColumn, len(cellCols))
	for d, col := range cellCols {
		reordered := make([]chunk.Cell, n)
		for i, j := range order {
			reordered[i] = col[j]
		}
		outComponents[d] = chunk.ComponentColumn{Cells: reordered}
	}

	out, err := chunk.New(chunk.NewID(), entity, outRowIDs, outTimelines, outComponents)
	if err != nil {
		panic(err)
	}
	return out
}

func firstTimelineDescriptor(parts []*chunk.Chunk, name string) component.Timeline {
	for _, p := range parts {
		if tc, ok := p.Timelines[name]; ok {
			return tc.Timeline
		}
	}
	return component.Timeline{Name: name}
}

func emptyResult(entity entitypath.Path) *chunk.Chunk {
	c, err := chunk.New(chunk.NewID(), entity, nil, nil, nil)
	if err != nil {
		panic(err)
	}
	return c
}

// BatchLatestAt resolves LatestAt for many requests concurrently, bounded
// by a small goroutine pool via errgroup, preserving the input order in
// the returned slice. Used by ViewContents-style multi-entity queries.
func (e *Engine) BatchLatestAt(ctx context.Context, reqs []LatestAtRequest) ([]*chunk.Chunk, error) {
	results := make([]*chunk.Chunk, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			c, err := e.LatestAt(gctx, req)
			if err != nil {
				return err
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

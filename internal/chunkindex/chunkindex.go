// Package chunkindex maintains, for each (entity, component, timeline),
// a bucketed time -> chunk-ids index; and for each (entity, component) a
// static overlay holding the single latest timeless chunk.
//
// Every ChunkID recorded here must resolve to a chunk the ChunkStore still
// owns; the store is responsible for calling RemoveChunk before it drops
// its own last reference. The index never stores a *chunk.Chunk itself —
// only ids — so it never decides a chunk's lifetime.
package chunkindex

import (
	"sort"
	"sync"

	"rerun-core/internal/chunk"
	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
	"rerun-core/internal/rowid"
)

// key is the full (entity, component, timeline) key a bucket tree is kept under.
type key struct {
	entity    string // entitypath.Path.HashKey()
	component component.Descriptor
	timeline  string
}

// staticKey is the (entity, component) key the static overlay is kept under.
type staticKey struct {
	entity    string
	component component.Descriptor
}

// entry is one (time, chunk-id) pair recorded in a bucket. A single chunk
// may appear under many entries across many buckets/tuples. time positions
// the entry within its bucket and is always the chunk's minimum time on
// this tuple; maxTime additionally records the chunk's maximum time on the
// same tuple, so range-overlap and carry-in queries can recognize a
// wide-spanning chunk even though it sits in a bucket keyed by its earlier,
// minimum time.
type entry struct {
	time    component.TimeInt
	maxTime component.TimeInt
	rowID   rowid.RowId // smallest row id on that timeline at that time, for tie-break bookkeeping
	chunkID chunk.ID
}

// bucket is a size-bounded, time-ordered slice of an index tree.
type bucket struct {
	lo, hi  component.TimeInt // inclusive coverage range
	entries []entry           // kept sorted by (time, rowID)
}

func (b *bucket) insert(e entry) {
	i := sort.Search(len(b.entries), func(i int) bool {
		if b.entries[i].time != e.time {
			return b.entries[i].time > e.time
		}
		return rowid.Less(e.rowID, b.entries[i].rowID)
	})
	b.entries = append(b.entries, entry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = e
}

func (b *bucket) maxTime() component.TimeInt {
	if len(b.entries) == 0 {
		return component.MinTime
	}
	return b.entries[len(b.entries)-1].time
}

// tree is the full bucket set for one (entity, component, timeline) tuple,
// kept as an ordered slice of non-overlapping buckets covering (-inf,+inf).
type tree struct {
	buckets []*bucket
}

func newTree() *tree {
	return &tree{buckets: []*bucket{{lo: component.MinTime, hi: component.MaxTime}}}
}

// bucketIndexFor returns the index of the bucket covering t.
func (tr *tree) bucketIndexFor(t component.TimeInt) int {
	return sort.Search(len(tr.buckets), func(i int) bool { return tr.buckets[i].hi >= t })
}

// Index is the per-store chunk index: one bucket tree per
// (entity, component, timeline) tuple, plus the static overlay.
//
// Index is safe for concurrent use: every method takes the Index's own
// RWMutex (exclusive for Insert/RemoveChunk, shared for lookups). Each
// call is atomic on its own; sequences of calls are not.
type Index struct {
	mu sync.RWMutex

	// IndexedBucketNumRows bounds how many entries a bucket may hold
	// before it is split at the median time. Zero disables splitting.
	IndexedBucketNumRows int

	trees  map[key]*tree
	static map[staticKey]chunk.ID

	// chunkTuples records, for GC/removal, which (key) trees a chunk was
	// inserted into so remove_chunk can find every reference in O(tuples).
	chunkTuples map[chunk.ID][]key
	chunkStatic map[chunk.ID][]staticKey
}

// New creates an empty Index. indexedBucketNumRows is the split
// threshold (spec default 4096; 0 disables bucketing).
func New(indexedBucketNumRows int) *Index {
	return &Index{
		IndexedBucketNumRows: indexedBucketNumRows,
		trees:                make(map[key]*tree),
		static:               make(map[staticKey]chunk.ID),
		chunkTuples:          make(map[chunk.ID][]key),
		chunkStatic:          make(map[chunk.ID][]staticKey),
	}
}

// Insert records c under every (component, timeline) pair it carries. For
// a static chunk (no timelines), it instead replaces the static overlay
// entry for every component the chunk carries, returning the ChunkIDs that
// were displaced, one per replaced slot (nil if none, and always nil for a
// temporal chunk).
func (idx *Index) Insert(c *chunk.Chunk) (displacedStatic []chunk.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ent := c.EntityPath.HashKey()

	if c.IsStatic() {
		for desc := range c.Components {
			sk := staticKey{entity: ent, component: desc}
			if prev, ok := idx.static[sk]; ok {
				displacedStatic = append(displacedStatic, prev)
				idx.untrackStaticLocked(prev, sk)
			}
			idx.static[sk] = c.ChunkID
			idx.chunkStatic[c.ChunkID] = append(idx.chunkStatic[c.ChunkID], sk)
		}
		return displacedStatic
	}

	for name, tc := range c.Timelines {
		if len(tc.Times) == 0 {
			continue
		}
		minTime, maxTime := tc.MinMax()
		var minRowID rowid.RowId = rowid.Max
		for i, t := range tc.Times {
			if t == minTime && rowid.Less(c.RowIDs[i], minRowID) {
				minRowID = c.RowIDs[i]
			}
		}
		for desc := range c.Components {
			k := key{entity: ent, component: desc, timeline: name}
			tr, ok := idx.trees[k]
			if !ok {
				tr = newTree()
				idx.trees[k] = tr
			}
			bi := tr.bucketIndexFor(minTime)
			b := tr.buckets[bi]
			b.insert(entry{time: minTime, maxTime: maxTime, rowID: minRowID, chunkID: c.ChunkID})
			idx.chunkTuples[c.ChunkID] = append(idx.chunkTuples[c.ChunkID], k)
			idx.maybeSplitLocked(tr, bi)
		}
	}
	return nil
}

// maybeSplitLocked splits the bucket at tr.buckets[bi] at its median time
// if it now exceeds IndexedBucketNumRows entries. Splitting never drops an
// entry: every entry lands in exactly one of the two halves.
func (idx *Index) maybeSplitLocked(tr *tree, bi int) {
	if idx.IndexedBucketNumRows <= 0 {
		return
	}
	b := tr.buckets[bi]
	if len(b.entries) <= idx.IndexedBucketNumRows {
		return
	}
	medianTime := b.entries[len(b.entries)/2].time
	if medianTime == b.lo {
		// Degenerate case: every entry shares the bucket's lower bound
		// (e.g. many chunks all starting at the same time). Splitting on
		// the median would produce an empty left half forever; bail out
		// rather than looping, at the cost of an oversized bucket.
		return
	}

	left := &bucket{lo: b.lo, hi: medianTime - 1}
	right := &bucket{lo: medianTime, hi: b.hi}
	for _, e := range b.entries {
		if e.time < medianTime {
			left.entries = append(left.entries, e)
		} else {
			right.entries = append(right.entries, e)
		}
	}
	tr.buckets = append(tr.buckets[:bi], append([]*bucket{left, right}, tr.buckets[bi+1:]...)...)
}

// RemoveChunk removes every index entry referencing chunkID, from both
// temporal trees and the static overlay.
func (idx *Index) RemoveChunk(id chunk.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, k := range idx.chunkTuples[id] {
		tr, ok := idx.trees[k]
		if !ok {
			continue
		}
		for _, b := range tr.buckets {
			b.entries = removeEntriesForChunk(b.entries, id)
		}
	}
	delete(idx.chunkTuples, id)

	for _, sk := range idx.chunkStatic[id] {
		if idx.static[sk] == id {
			delete(idx.static, sk)
		}
	}
	delete(idx.chunkStatic, id)
}

func (idx *Index) untrackStaticLocked(id chunk.ID, sk staticKey) {
	tuples := idx.chunkStatic[id]
	for i, t := range tuples {
		if t == sk {
			idx.chunkStatic[id] = append(tuples[:i], tuples[i+1:]...)
			return
		}
	}
}

func removeEntriesForChunk(entries []entry, id chunk.ID) []entry {
	out := entries[:0]
	for _, e := range entries {
		if e.chunkID != id {
			out = append(out, e)
		}
	}
	return out
}

// IsReferenced reports whether id still appears in any temporal tree or
// the static overlay. Used by the store to decide whether a chunk
// displaced from one (entity, component) static slot is still alive
// through another slot it also covers.
func (idx *Index) IsReferenced(id chunk.ID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunkTuples[id]) > 0 || len(idx.chunkStatic[id]) > 0
}

// StaticChunk returns the ChunkID of the static overlay chunk for
// (entity, component), if any.
func (idx *Index) StaticChunk(entity entitypath.Path, desc component.Descriptor) (chunk.ID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.static[staticKey{entity: entity.HashKey(), component: desc}]
	return id, ok
}

// LatestAtRelevantChunks returns the superset of chunks whose rows could
// satisfy a latest-at query at `at`: every chunk indexed (by its minimum
// time on this tuple) at or before `at`.
//
// A chunk is indexed under its minimum time so that any chunk with a row
// at or before `at` is guaranteed to be reached, however wide a time range
// it spans — a chunk with rows at {0, 1000} is indexed at 0 and must still
// be visited by a query at `at=1000`, even though another, narrower chunk
// might sit in a later bucket whose own best candidate time is closer to
// `at`. Because a bucket position reflects only a chunk's earliest row, an
// earlier bucket can still hold the tuple's true best candidate; there is
// no sound way to stop scanning early based on the bucket boundaries
// alone, so every bucket at or before `at` is scanned.
func (idx *Index) LatestAtRelevantChunks(entity entitypath.Path, desc component.Descriptor, timeline string, at component.TimeInt) []chunk.ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tr, ok := idx.trees[key{entity: entity.HashKey(), component: desc, timeline: timeline}]
	if !ok {
		return nil
	}

	seen := make(map[chunk.ID]struct{})
	var out []chunk.ID
	add := func(id chunk.ID) {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	bi := tr.bucketIndexFor(at)
	if bi >= len(tr.buckets) {
		bi = len(tr.buckets) - 1
	}
	for i := bi; i >= 0; i-- {
		for _, e := range tr.buckets[i].entries {
			if e.time > at {
				continue
			}
			add(e.chunkID)
		}
	}
	return out
}

// RangeRelevantChunks returns chunks whose time span on timeline
// intersects r, plus (if carryIn is true) the single chunk carrying the
// latest row strictly before r.Min.
func (idx *Index) RangeRelevantChunks(entity entitypath.Path, desc component.Descriptor, timeline string, r component.Range, carryIn bool) []chunk.ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tr, ok := idx.trees[key{entity: entity.HashKey(), component: desc, timeline: timeline}]
	if !ok {
		return nil
	}

	seen := make(map[chunk.ID]struct{})
	var out []chunk.ID
	add := func(id chunk.ID) {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	// Every bucket is scanned rather than pruned by [b.lo,b.hi] overlap: a
	// bucket's bounds are derived from the minimum times of the chunks
	// indexed there, not their full span, so a wide-spanning chunk can sit
	// in a bucket whose range doesn't overlap r even though one of its
	// rows does. The per-entry test uses the entry's full [time,maxTime]
	// span rather than just its indexed (minimum) time, for the same
	// reason: a chunk indexed at an early time can still carry a row
	// inside r at its later, untracked-by-bucket-position maximum time.
	for _, b := range tr.buckets {
		for _, e := range b.entries {
			if e.time <= r.Max && e.maxTime >= r.Min {
				add(e.chunkID)
			}
		}
	}

	if carryIn && r.Min > component.MinTime {
		// Scan every bucket before r.Min, not just until one yields a
		// candidate: a bucket is positioned by a chunk's minimum time, so
		// an earlier bucket can still hold a wide-spanning chunk whose true
		// latest-before-r.Min row beats anything found so far. The
		// candidate ranking uses each entry's maxTime capped at r.Min-1 (the
		// latest time it could possibly contribute before r.Min) rather than
		// its indexed minimum time, so a wide chunk whose span reaches close
		// to r.Min is preferred over a narrower chunk that starts later but
		// entirely before r.Min.
		var carryID chunk.ID
		var carryTime component.TimeInt
		haveCarry := false
		for i := tr.bucketIndexFor(r.Min - 1); i >= 0; i-- {
			for _, e := range tr.buckets[i].entries {
				if e.time >= r.Min {
					continue
				}
				effective := e.maxTime
				if effective >= r.Min {
					effective = r.Min - 1
				}
				if !haveCarry || effective > carryTime {
					carryTime, carryID, haveCarry = effective, e.chunkID, true
				}
			}
		}
		if haveCarry {
			add(carryID)
		}
	}
	return out
}

// BucketCount returns the number of buckets backing the given tuple (for
// tests asserting the splitting invariant, spec.md §8 property 8).
func (idx *Index) BucketCount(entity entitypath.Path, desc component.Descriptor, timeline string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	tr, ok := idx.trees[key{entity: entity.HashKey(), component: desc, timeline: timeline}]
	if !ok {
		return 0
	}
	return len(tr.buckets)
}

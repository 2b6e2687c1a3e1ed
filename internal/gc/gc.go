// Package gc implements chunk eviction: deciding which chunks a ChunkStore
// should drop to satisfy a target amount of freed memory, without dropping
// data a caller asked to protect.
//
// The Target/Order split mirrors a retention-policy idiom (TTL, size and
// count policies composed under a composite policy) generalized from "drop rows
// older than N" to "drop chunks until M bytes are freed, in some order,
// without touching the last K rows of any tuple".
package gc

import (
	"sort"
	"time"

	"golang.org/x/time/rate"

	"rerun-core/internal/chunk"
	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
	"rerun-core/internal/rowid"
)

// deadlineCheckRate bounds how often Plan calls opts.Now to test the time
// budget. A large eviction sweep can consider tens of thousands of
// candidates; calling time.Now() on every single one is wasted work while
// the store's mutex is held for the whole sweep. Checking at most this
// often still catches the deadline promptly relative to TimeBudget, which
// is measured in whole seconds by convention.
const deadlineCheckRate = 200 // Hz

// Target describes how much to drop.
type Target struct {
	// Kind selects the stopping condition.
	Kind TargetKind
	// Fraction is used by DropAtLeastFraction: drop until at least this
	// fraction (0..1) of the store's current heap bytes has been freed.
	Fraction float64
	// Bytes is used by DropAtLeastBytes (drop until this many bytes are
	// freed) and KeepAtMost (stop once total remaining bytes <= Bytes).
	Bytes uint64
}

type TargetKind int

const (
	// DropAtLeastFraction frees at least Fraction of current store bytes.
	DropAtLeastFraction TargetKind = iota
	// DropAtLeastBytes frees at least Bytes bytes.
	DropAtLeastBytes
	// Everything drops every evictable chunk (ignores Fraction/Bytes).
	Everything
	// KeepAtMost stops once remaining bytes are at or below Bytes.
	KeepAtMost
)

// Order selects which chunks are considered for eviction first.
type Order struct {
	Kind OrderKind
	// Timeline/At are used by FurthestFromCursor: chunks are ordered by
	// distance from At on Timeline, farthest first.
	Timeline string
	At       component.TimeInt
}

type OrderKind int

const (
	// OldestRowId evicts chunks with the smallest minimum RowId first
	// (oldest-ingested-first). This is the default.
	OldestRowId OrderKind = iota
	// FurthestFromCursor evicts chunks whose time span is farthest from
	// Order.At on Order.Timeline first, useful for keeping a scrub cursor's
	// neighborhood resident.
	FurthestFromCursor
)

// Candidate is a chunk considered for eviction, with the protection
// bookkeeping the caller must supply per spec.md §4.8 (protect_latest).
type Candidate struct {
	Chunk *chunk.Chunk
	// Protected marks a chunk that must never be evicted regardless of
	// target/order (it holds the last protect_latest rows for some
	// tuple, or it is the sole static overlay entry left for its tuple).
	Protected bool
}

// Plan is the immutable result of a GC decision: the chunks selected for
// eviction, in the order they should be dropped.
type Plan struct {
	Evict []chunk.ID
	// FreedBytes is the cumulative bytes the plan expects to free, for
	// diagnostics only.
	FreedBytes uint64
	// TimedOut reports whether the plan stopped early due to TimeBudget
	// rather than satisfying Target.
	TimedOut bool
}

// Options bounds how long Plan may spend building the eviction list.
type Options struct {
	Target Target
	Order  Order
	// TimeBudget is a soft deadline: Plan stops selecting further
	// candidates (but returns what it has) once exceeded. Zero means no
	// deadline.
	TimeBudget time.Duration
	// Now is used for deadline bookkeeping; defaults to time.Now if nil.
	Now func() time.Time
}

// Plan selects chunks to evict from candidates to satisfy opts.Target,
// considering candidates in opts.Order, never selecting a Protected
// candidate, and never evicting static chunks before every protected
// temporal chunk has already been considered (spec.md §4.8: "static
// chunks are evicted last").
func Plan(candidates []Candidate, currentTotalBytes uint64, opts Options) Plan {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	deadline := time.Time{}
	var limiter *rate.Limiter
	if opts.TimeBudget > 0 {
		deadline = now().Add(opts.TimeBudget)
		limiter = rate.NewLimiter(rate.Limit(deadlineCheckRate), 1)
	}

	ordered := orderCandidates(candidates, opts.Order)

	needed := evictionGoal(opts.Target, currentTotalBytes)

	var plan Plan
	var freed uint64
	for _, cand := range ordered {
		if cand.Protected {
			continue
		}
		if opts.Target.Kind != Everything && freed >= needed {
			break
		}
		if limiter != nil && limiter.Allow() && now().After(deadline) {
			plan.TimedOut = true
			break
		}
		plan.Evict = append(plan.Evict, cand.Chunk.ChunkID)
		freed += cand.Chunk.HeapSizeBytes()
	}
	plan.FreedBytes = freed
	return plan
}

// evictionGoal translates a Target into a byte count Plan should try to
// free, given the store's current total size.
func evictionGoal(t Target, currentTotalBytes uint64) uint64 {
	switch t.Kind {
	case DropAtLeastFraction:
		return uint64(float64(currentTotalBytes) * t.Fraction)
	case DropAtLeastBytes:
		return t.Bytes
	case KeepAtMost:
		if currentTotalBytes <= t.Bytes {
			return 0
		}
		return currentTotalBytes - t.Bytes
	case Everything:
		return currentTotalBytes
	default:
		return 0
	}
}

// orderCandidates returns candidates sorted per Order, static chunks
// sorted last within that order so temporal data is always preferred for
// eviction first.
func orderCandidates(candidates []Candidate, order Order) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	less := lessFunc(order)
	sort.SliceStable(out, func(i, j int) bool {
		iStatic, jStatic := out[i].Chunk.IsStatic(), out[j].Chunk.IsStatic()
		if iStatic != jStatic {
			return !iStatic // non-static (false) sorts before static (true)
		}
		return less(out[i], out[j])
	})
	return out
}

func lessFunc(order Order) func(a, b Candidate) bool {
	switch order.Kind {
	case FurthestFromCursor:
		return func(a, b Candidate) bool {
			return distanceFromCursor(a.Chunk, order) > distanceFromCursor(b.Chunk, order)
		}
	default: // OldestRowId
		return func(a, b Candidate) bool {
			return rowid.Less(minRowID(a.Chunk), minRowID(b.Chunk))
		}
	}
}

func minRowID(c *chunk.Chunk) rowid.RowId {
	if len(c.RowIDs) == 0 {
		return rowid.Max
	}
	min := c.RowIDs[0]
	for _, id := range c.RowIDs[1:] {
		if rowid.Less(id, min) {
			min = id
		}
	}
	return min
}

func distanceFromCursor(c *chunk.Chunk, order Order) int64 {
	tc, ok := c.Timelines[order.Timeline]
	if !ok || len(tc.Times) == 0 {
		return 1 << 62 // no data on this timeline: evict first, after protected
	}
	min, max := tc.MinMax()
	dMin := abs64(int64(order.At) - int64(min))
	dMax := abs64(int64(order.At) - int64(max))
	if dMin < dMax {
		return dMin
	}
	return dMax
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// tupleKey identifies one (component, timeline) pair a candidate chunk
// touches, for per-tuple protection accounting. Static chunks carry no
// timeline, so they key under an empty timeline distinct from any real one.
type tupleKey struct {
	component component.Descriptor
	timeline  string
}

// ProtectLatest marks, among candidates sharing the same entity path, the
// chunks needed to keep at least protectLatest rows surviving for every
// (entity, component, timeline) tuple those candidates touch, per spec.md
// §4.8. A chunk frequently touches more than one tuple (it carries several
// components, or several timelines, or both); it is protected if ANY tuple
// it touches still needs it, so each tuple's floor is computed and applied
// independently rather than once per entity. It mutates and returns the
// input slice.
func ProtectLatest(candidates []Candidate, entity entitypath.Path, protectLatest int) []Candidate {
	if protectLatest <= 0 {
		return candidates
	}

	tuples := make(map[tupleKey][]int)
	for i, cand := range candidates {
		c := cand.Chunk
		if !c.EntityPath.Equal(entity) {
			continue
		}
		if c.IsStatic() {
			for desc := range c.Components {
				tk := tupleKey{component: desc}
				tuples[tk] = append(tuples[tk], i)
			}
			continue
		}
		for timeline := range c.Timelines {
			for desc := range c.Components {
				tk := tupleKey{component: desc, timeline: timeline}
				tuples[tk] = append(tuples[tk], i)
			}
		}
	}

	for _, members := range tuples {
		sort.SliceStable(members, func(a, b int) bool {
			return rowid.Less(minRowID(candidates[members[a]].Chunk), minRowID(candidates[members[b]].Chunk))
		})
		// Protect the tail (most recent) of this tuple's sorted-by-min-rowid
		// list, accumulating row counts until protectLatest is reached.
		protectedRows := 0
		for k := len(members) - 1; k >= 0 && protectedRows < protectLatest; k-- {
			candidates[members[k]].Protected = true
			protectedRows += candidates[members[k]].Chunk.NumRows()
		}
	}
	return candidates
}

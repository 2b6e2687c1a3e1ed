// Package querycache memoizes query engine results per fingerprint
// (store_id, entity, component, timeline, query-kind, at-or-range plus
// sparse-fill mode), invalidating memoized entries when a subscribed
// ChunkStoreEvent touches the same (entity, component) pair: on every
// timeline for a static chunk, only on the chunk's own timelines for a
// temporal one.
//
// There is no teacher analog for a query cache; the memoization shape
// follows the general sync.Map-keyed-by-fingerprint pattern common to
// chunk-store query caches in the corpus, with singleflight collapsing
// concurrent misses for the same fingerprint into one evaluation.
package querycache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"rerun-core/internal/chunk"
	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
	"rerun-core/internal/query"
	"rerun-core/internal/storeevent"
)

// Kind distinguishes the two query shapes a fingerprint can represent.
type Kind int

const (
	KindLatestAt Kind = iota
	KindRange
)

// Fingerprint uniquely identifies one memoized query result.
type Fingerprint struct {
	StoreID   storeevent.StoreId
	Entity    string // entitypath.Path.HashKey()
	Component component.Descriptor
	Timeline  string
	Kind      Kind
	At        component.TimeInt // valid for KindLatestAt
	Range     component.Range   // valid for KindRange
	// SparseFill distinguishes a plain range query from one asking for a
	// carry-in row; the two return different results for the same Range
	// and must not collide in the cache.
	SparseFill query.SparseFill
}

// componentKey is the coarser (entity, component) pair a ChunkStoreEvent
// is checked against, regardless of the timeline a cached query happened
// to be fingerprinted under. A static chunk change must drop every cached
// query for its (entity, component) no matter which timeline the caller
// requested, because Engine.LatestAt consults the static overlay before
// ever looking at the requested timeline: a cached result for timeline
// "frame" can be the static value just as easily as a cached result for
// timeline "log_time", and both go stale together.
type componentKey struct {
	entity    string
	component component.Descriptor
}

func (f Fingerprint) componentKey() componentKey {
	return componentKey{entity: f.Entity, component: f.Component}
}

// Evaluator is the query engine function the cache forwards to on a miss.
// It must be safe for concurrent use.
type Evaluator func(ctx context.Context, fp Fingerprint) (*chunk.Chunk, error)

// Cache memoizes Evaluator results by Fingerprint, self-invalidating in
// response to store events it is subscribed to.
type Cache struct {
	storeID storeevent.StoreId
	eval    Evaluator

	mu      sync.RWMutex
	entries map[Fingerprint]*chunk.Chunk
	// byComponent indexes cached fingerprints by (entity, component), the
	// coarsest granularity a store event can invalidate at. A static event
	// drops every fingerprint in the set; a temporal event drops only those
	// whose Timeline matches the one the event touched.
	byComponent map[componentKey]map[Fingerprint]struct{}

	group singleflight.Group
}

// New creates a Cache for storeID, forwarding misses to eval.
func New(storeID storeevent.StoreId, eval Evaluator) *Cache {
	return &Cache{
		storeID:     storeID,
		eval:        eval,
		entries:     make(map[Fingerprint]*chunk.Chunk),
		byComponent: make(map[componentKey]map[Fingerprint]struct{}),
	}
}

// LatestAt returns the cached chunk for a latest-at fingerprint, evaluating
// and recording it on a miss. Concurrent misses for the same fingerprint
// are collapsed into a single Evaluator call.
func (c *Cache) LatestAt(ctx context.Context, entity entitypath.Path, desc component.Descriptor, timeline string, at component.TimeInt) (*chunk.Chunk, error) {
	fp := Fingerprint{StoreID: c.storeID, Entity: entity.HashKey(), Component: desc, Timeline: timeline, Kind: KindLatestAt, At: at}
	return c.get(ctx, fp)
}

// Range returns the cached chunk for a range fingerprint, evaluating and
// recording it on a miss.
func (c *Cache) Range(ctx context.Context, entity entitypath.Path, desc component.Descriptor, timeline string, r component.Range, sparseFill query.SparseFill) (*chunk.Chunk, error) {
	fp := Fingerprint{StoreID: c.storeID, Entity: entity.HashKey(), Component: desc, Timeline: timeline, Kind: KindRange, Range: r, SparseFill: sparseFill}
	return c.get(ctx, fp)
}

func (c *Cache) get(ctx context.Context, fp Fingerprint) (*chunk.Chunk, error) {
	c.mu.RLock()
	if hit, ok := c.entries[fp]; ok {
		c.mu.RUnlock()
		return hit, nil
	}
	c.mu.RUnlock()

	groupKey := fingerprintKey(fp)
	v, err, _ := c.group.Do(groupKey, func() (any, error) {
		// Re-check under the singleflight key: another goroutine may have
		// populated the entry while we waited to enter Do.
		c.mu.RLock()
		if hit, ok := c.entries[fp]; ok {
			c.mu.RUnlock()
			return hit, nil
		}
		c.mu.RUnlock()

		result, err := c.eval(ctx, fp)
		if err != nil {
			return nil, err
		}
		c.record(fp, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*chunk.Chunk), nil
}

func (c *Cache) record(fp Fingerprint, result *chunk.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = result
	ck := fp.componentKey()
	if c.byComponent[ck] == nil {
		c.byComponent[ck] = make(map[Fingerprint]struct{})
	}
	c.byComponent[ck][fp] = struct{}{}
}

// OnEvents implements subscriber.Subscriber: invalidates cached queries
// touched by each event's chunk. A static chunk clears every fingerprint
// for its (entity, component) regardless of the timeline it was cached
// under; a temporal chunk clears only the fingerprints for the timelines
// it actually carries.
func (c *Cache) OnEvents(events []storeevent.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		if ev.StoreID != c.storeID || ev.Diff.Chunk == nil {
			continue
		}
		ch := ev.Diff.Chunk
		entity := ch.EntityPath.HashKey()
		for desc := range ch.Components {
			ck := componentKey{entity: entity, component: desc}
			if ch.IsStatic() {
				c.invalidateComponentLocked(ck, "", true)
				continue
			}
			for timeline := range ch.Timelines {
				c.invalidateComponentLocked(ck, timeline, false)
			}
		}
	}
}

// invalidateComponentLocked drops every cached fingerprint for ck. When
// allTimelines is false, only fingerprints recorded under timeline are
// dropped; when true (a static chunk changed), every fingerprint for ck is
// dropped no matter which timeline it was requested under.
func (c *Cache) invalidateComponentLocked(ck componentKey, timeline string, allTimelines bool) {
	fps, ok := c.byComponent[ck]
	if !ok {
		return
	}
	for fp := range fps {
		if !allTimelines && fp.Timeline != timeline {
			continue
		}
		delete(c.entries, fp)
		delete(fps, fp)
	}
	if len(fps) == 0 {
		delete(c.byComponent, ck)
	}
}

// Len reports the number of memoized entries (for tests/diagnostics).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// fingerprintKey renders a Fingerprint into a singleflight-suitable string
// key. It need not be human readable, only collision-free within a
// process.
func fingerprintKey(fp Fingerprint) string {
	var kind byte
	if fp.Kind == KindRange {
		kind = 'r'
	} else {
		kind = 'l'
	}
	return fp.StoreID.String() + "\x00" + fp.Entity + "\x00" + fp.Component.String() + "\x00" +
		fp.Timeline + "\x00" + string(kind) + "\x00" +
		itoa64(int64(fp.At)) + "\x00" + itoa64(int64(fp.Range.Min)) + "\x00" + itoa64(int64(fp.Range.Max)) + "\x00" +
		itoa64(int64(fp.SparseFill))
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

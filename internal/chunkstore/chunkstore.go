// Package chunkstore implements Store, the central owner of a recording's
// (or blueprint's) chunks and indices. It validates and inserts chunks,
// offers them to the compactor, maintains the chunk index, runs GC
// sweeps, and emits events to its subscriber bus.
//
// The single-writer/concurrent-reader locking generalizes the teacher's
// mutex-guarded "active chunk" state machine
// (internal/chunk/memory/manager.go) from one mutable active record to a
// full set of immutable chunks plus their indices.
package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"rerun-core/internal/chunk"
	"rerun-core/internal/chunkindex"
	"rerun-core/internal/compactor"
	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
	"rerun-core/internal/gc"
	"rerun-core/internal/logging"
	"rerun-core/internal/query"
	"rerun-core/internal/querycache"
	"rerun-core/internal/rowid"
	"rerun-core/internal/storeevent"
	"rerun-core/internal/subscriber"
)

var (
	// ErrReusedRowId is returned when an inserted chunk carries a RowId
	// already present among the store's live rows. The store is left
	// unchanged.
	ErrReusedRowId = errors.New("chunkstore: row id already present")
	// ErrMismatchedTimelineTypes is returned when a chunk declares a
	// timeline whose TimeType conflicts with the store's existing record
	// for that timeline name. The store is left unchanged.
	ErrMismatchedTimelineTypes = errors.New("chunkstore: timeline type mismatch")
	// ErrInvalidConfig is returned by New when Config is not usable.
	ErrInvalidConfig = errors.New("chunkstore: invalid config")
)

// Config mirrors spec.md §6's ChunkStoreConfig.
type Config struct {
	// IndexedBucketNumRows bounds how many entries an index bucket may
	// hold before splitting. 0 disables bucketing (a single bucket per
	// tuple, forever).
	IndexedBucketNumRows int
	// ChunkMaxBytes and ChunkMaxRows bound a compaction merge. 0 means
	// unbounded.
	ChunkMaxBytes uint64
	ChunkMaxRows  uint64
	// CompactionDisabled turns off the compactor entirely.
	CompactionDisabled bool
	// QueryCacheDisabled skips the memoizing query cache, sending every
	// LatestAt/Range call straight to the query engine. Tests that assert
	// on evaluator call counts against the engine directly need this.
	QueryCacheDisabled bool
	// EnableChangelog controls whether ChunkStoreEvents are published to
	// the subscriber bus. False mutes event emission.
	EnableChangelog bool
	// StoreInsertIds is not read by the store. Every event carries the
	// store-wide Generation (insert and GC counters) it occurred at
	// whatever this field says, and chunks get no per-row insert id
	// column.
	StoreInsertIds bool
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		IndexedBucketNumRows: 4096,
		EnableChangelog:      true,
	}
}

func (c Config) validate() error {
	if c.IndexedBucketNumRows < 0 {
		return fmt.Errorf("%w: IndexedBucketNumRows must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// SchemaEntry is one (entity, component) pair the store has ever ingested.
type SchemaEntry struct {
	Entity    entitypath.Path
	Component component.Descriptor
}

// Schema enumerates every (entity, component) pair a store has observed,
// including ones whose chunks have since been GC'd.
type Schema struct {
	Entries []SchemaEntry
}

type schemaKey struct {
	entity string
	desc   component.Descriptor
}

// Store owns a set of chunks and their indices for one StoreId.
type Store struct {
	id     storeevent.StoreId
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	chunks     map[chunk.ID]*chunk.Chunk
	idx        *chunkindex.Index
	compactor  *compactor.Compactor
	bus        *subscriber.Bus
	engine     *query.Engine
	cache      *querycache.Cache
	seenRowIDs map[rowid.RowId]struct{}

	// lastTemporal tracks, per entity, the most recently inserted
	// non-static chunk id — the sole compaction candidate offered to new
	// temporal inserts for that entity, approximating "adjacent chunk in
	// the same bucket" without re-deriving bucket membership per insert.
	lastTemporal map[string]chunk.ID

	timelineTypes map[string]component.TimeType
	schemaSeen    map[schemaKey]struct{}
	entityPaths   map[string]entitypath.Path

	generation storeevent.Generation
}

// New creates an empty Store of the given kind.
func New(kind storeevent.Kind, cfg Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Store{
		id:            storeevent.NewStoreId(kind),
		cfg:           cfg,
		logger:        logging.Default(logger).With("component", "chunk-store"),
		chunks:        make(map[chunk.ID]*chunk.Chunk),
		idx:           chunkindex.New(cfg.IndexedBucketNumRows),
		compactor:     compactor.New(compactor.Limits{MaxBytes: cfg.ChunkMaxBytes, MaxRows: cfg.ChunkMaxRows}),
		bus:           subscriber.New(logger),
		seenRowIDs:    make(map[rowid.RowId]struct{}),
		lastTemporal:  make(map[string]chunk.ID),
		timelineTypes: make(map[string]component.TimeType),
		schemaSeen:    make(map[schemaKey]struct{}),
		entityPaths:   make(map[string]entitypath.Path),
	}
	s.compactor.SetEnabled(!cfg.CompactionDisabled)
	s.engine = query.New(s.idx, s)
	if !cfg.QueryCacheDisabled {
		s.cache = querycache.New(s.id, s.evaluateQuery)
		s.bus.Register(s.cache)
	}
	return s, nil
}

// evaluateQuery is the querycache.Evaluator backing s.cache: it recovers
// the entity path from the fingerprint's hash (recorded for every entity
// that has ever carried a chunk) and forwards to the query engine.
func (s *Store) evaluateQuery(ctx context.Context, fp querycache.Fingerprint) (*chunk.Chunk, error) {
	s.mu.RLock()
	entity, ok := s.entityPaths[fp.Entity]
	s.mu.RUnlock()
	if !ok {
		// No chunk has ever been recorded for this entity hash, so no
		// index entries can exist for it either; any path tags an empty
		// result identically.
		entity = entitypath.Root
	}

	if fp.Kind == querycache.KindRange {
		return s.engine.Range(ctx, query.RangeRequest{
			Entity: entity, Component: fp.Component, Timeline: fp.Timeline,
			Range: fp.Range, SparseFill: fp.SparseFill,
		})
	}
	return s.engine.LatestAt(ctx, query.LatestAtRequest{
		Entity: entity, Component: fp.Component, Timeline: fp.Timeline, At: fp.At,
	})
}

// ID returns the store's identity.
func (s *Store) ID() storeevent.StoreId { return s.id }

// RegisterSubscriber registers sub to receive future events. Exclusive
// access per spec.md §5.
func (s *Store) RegisterSubscriber(sub subscriber.Subscriber) subscriber.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.Register(sub)
}

// UnregisterSubscriber removes a previously registered subscriber.
func (s *Store) UnregisterSubscriber(h subscriber.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus.Unregister(h)
}

// InsertChunk validates and inserts c, offering it to the compactor first
// if it carries timelines. Returns the events the insert produced (empty
// if EnableChangelog is false).
func (s *Store) InsertChunk(c *chunk.Chunk) ([]storeevent.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.IsSorted {
		return nil, chunk.ErrUnsortedChunk
	}
	for _, id := range c.RowIDs {
		if _, dup := s.seenRowIDs[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrReusedRowId, id)
		}
	}
	for name, tc := range c.Timelines {
		if existing, ok := s.timelineTypes[name]; ok && existing != tc.Timeline.Type {
			return nil, fmt.Errorf("%w: timeline %q already %s, got %s", ErrMismatchedTimelineTypes, name, existing, tc.Timeline.Type)
		}
	}

	var diffs []storeevent.Diff
	if c.IsStatic() {
		diffs = s.insertStaticLocked(c)
	} else {
		diffs = s.insertTemporalLocked(c)
	}

	for _, id := range c.RowIDs {
		s.seenRowIDs[id] = struct{}{}
	}
	for name, tc := range c.Timelines {
		s.timelineTypes[name] = tc.Timeline.Type
	}
	s.recordSchemaLocked(c)

	s.generation.InsertID++
	return s.emitLocked(diffs), nil
}

func (s *Store) insertStaticLocked(c *chunk.Chunk) []storeevent.Diff {
	displaced := s.idx.Insert(c)
	var diffs []storeevent.Diff
	seen := make(map[chunk.ID]struct{})
	for _, id := range displaced {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if s.idx.IsReferenced(id) {
			continue // still covers another (entity, component) pair
		}
		if old, ok := s.chunks[id]; ok {
			s.forgetRowIDsLocked(old)
			delete(s.chunks, id)
			diffs = append(diffs, storeevent.Diff{Kind: storeevent.Deletion, Chunk: old})
		}
	}
	s.chunks[c.ChunkID] = c
	diffs = append(diffs, storeevent.Diff{Kind: storeevent.Addition, Chunk: c})
	return diffs
}

func (s *Store) insertTemporalLocked(c *chunk.Chunk) []storeevent.Diff {
	entityKey := c.EntityPath.HashKey()

	if s.compactor.Enabled() {
		if candID, ok := s.lastTemporal[entityKey]; ok {
			if cand, ok := s.chunks[candID]; ok {
				if merged, replacedID, ok := s.compactor.Offer(c, []*chunk.Chunk{cand}); ok {
					s.idx.RemoveChunk(replacedID)
					delete(s.chunks, replacedID)
					s.idx.Insert(merged)
					s.chunks[merged.ChunkID] = merged
					s.lastTemporal[entityKey] = merged.ChunkID
					return []storeevent.Diff{
						{Kind: storeevent.Deletion, Chunk: cand},
						{Kind: storeevent.Addition, Chunk: merged, Compaction: &storeevent.CompactionReport{
							Compacted: true, ReplacedID: replacedID, SourceChunks: []chunk.ID{replacedID, c.ChunkID},
						}},
					}
				}
			}
		}
	}

	s.idx.Insert(c)
	s.chunks[c.ChunkID] = c
	s.lastTemporal[entityKey] = c.ChunkID
	return []storeevent.Diff{{Kind: storeevent.Addition, Chunk: c}}
}

func (s *Store) forgetRowIDsLocked(c *chunk.Chunk) {
	for _, id := range c.RowIDs {
		delete(s.seenRowIDs, id)
	}
}

func (s *Store) recordSchemaLocked(c *chunk.Chunk) {
	entityKey := c.EntityPath.HashKey()
	s.entityPaths[entityKey] = c.EntityPath
	for desc := range c.Components {
		s.schemaSeen[schemaKey{entity: entityKey, desc: desc}] = struct{}{}
	}
}

// emitLocked stamps and publishes diffs as an event batch, returning it.
// Must be called with s.mu held for writing.
func (s *Store) emitLocked(diffs []storeevent.Diff) []storeevent.Event {
	if len(diffs) == 0 {
		return nil
	}
	events := make([]storeevent.Event, len(diffs))
	for i, d := range diffs {
		events[i] = storeevent.Event{
			StoreID:    s.id,
			Generation: s.generation,
			EventID:    storeevent.NextEventID(),
			Diff:       d,
		}
	}
	if s.cfg.EnableChangelog {
		s.bus.Publish(events)
	}
	return events
}

// Gc runs one GC sweep per spec.md §4.8, evicting chunks until opts.Target
// is met (or opts.TimeBudget is exhausted), never evicting a chunk that
// would drop below opts.ProtectLatest surviving rows for any tuple it
// touches, and always evicting static chunks last.
func (s *Store) Gc(ctx context.Context, opts GcOptions) ([]storeevent.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]gc.Candidate, 0, len(s.chunks))
	var totalBytes uint64
	entities := make(map[string]entitypath.Path)
	for _, c := range s.chunks {
		candidates = append(candidates, gc.Candidate{Chunk: c})
		totalBytes += c.HeapSizeBytes()
		entities[c.EntityPath.HashKey()] = c.EntityPath
	}
	for _, entity := range entities {
		candidates = gc.ProtectLatest(candidates, entity, opts.ProtectLatest)
	}

	plan := gc.Plan(candidates, totalBytes, gc.Options{
		Target:     opts.Target,
		Order:      opts.Order,
		TimeBudget: opts.TimeBudget,
	})

	var diffs []storeevent.Diff
	for _, id := range plan.Evict {
		c, ok := s.chunks[id]
		if !ok {
			continue
		}
		s.idx.RemoveChunk(id)
		s.forgetRowIDsLocked(c)
		delete(s.chunks, id)
		entityKey := c.EntityPath.HashKey()
		if s.lastTemporal[entityKey] == id {
			delete(s.lastTemporal, entityKey)
		}
		diffs = append(diffs, storeevent.Diff{Kind: storeevent.Deletion, Chunk: c})
	}
	s.generation.GcID++
	return s.emitLocked(diffs), nil
}

// GcOptions mirrors spec.md §4.8's GarbageCollectionOptions.
type GcOptions struct {
	Target        gc.Target
	Order         gc.Order
	ProtectLatest int
	TimeBudget    time.Duration
}

// GetChunk implements query.ChunkSource.
func (s *Store) GetChunk(id chunk.ID) (*chunk.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	return c, ok
}

// LatestAt is the convenience path through the query engine (spec.md
// §4.3's latest_at).
//
// Deliberately does not hold s.mu itself: the engine resolves candidate
// chunks via s.GetChunk, which takes its own read lock per call. Wrapping
// that in an outer RLock here would let one goroutine attempt to acquire
// s.mu.RLock() twice, which can self-deadlock against a writer that
// arrives in between (Go's RWMutex gives pending writers priority over
// new readers).
func (s *Store) LatestAt(ctx context.Context, req query.LatestAtRequest) (*chunk.Chunk, error) {
	if s.cache == nil {
		return s.engine.LatestAt(ctx, req)
	}
	return s.cache.LatestAt(ctx, req.Entity, req.Component, req.Timeline, req.At)
}

// Range is the convenience path through the query engine. See LatestAt
// for why this does not hold s.mu directly.
func (s *Store) Range(ctx context.Context, req query.RangeRequest) (*chunk.Chunk, error) {
	if s.cache == nil {
		return s.engine.Range(ctx, req)
	}
	return s.cache.Range(ctx, req.Entity, req.Component, req.Timeline, req.Range, req.SparseFill)
}

// IterChunks returns a read-only, unordered iterator over every live
// chunk. Shared access per spec.md §5.
func (s *Store) IterChunks() iter.Seq2[chunk.ID, *chunk.Chunk] {
	return func(yield func(chunk.ID, *chunk.Chunk) bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for id, c := range s.chunks {
			if !yield(id, c) {
				return
			}
		}
	}
}

// Schema enumerates every (entity, component) pair ever ingested,
// including ones whose chunks have since been evicted.
func (s *Store) Schema() Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Schema{Entries: make([]SchemaEntry, 0, len(s.schemaSeen))}
	for k := range s.schemaSeen {
		out.Entries = append(out.Entries, SchemaEntry{Entity: s.entityPaths[k.entity], Component: k.desc})
	}
	return out
}

// TotalHeapSizeBytes sums HeapSizeBytes across every live chunk, the
// memory-use signal GC decisions are made from.
func (s *Store) TotalHeapSizeBytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, c := range s.chunks {
		total += c.HeapSizeBytes()
	}
	return total
}

// NumChunks reports the number of live chunks (diagnostics/tests).
func (s *Store) NumChunks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Generation returns the store's current (insert count, gc count) pair.
func (s *Store) Generation() storeevent.Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

package chunkstore

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"rerun-core/internal/chunk"
	"rerun-core/internal/storeevent"
)

// snapshotWire is the on-wire shape written by SnapshotTo: the store's
// identity plus every live chunk in its zstd-compressed form. This is a
// debug/interchange aid, not a durability guarantee — spec.md §9 leaves
// persistence to callers, and this is one way a caller can implement it.
type snapshotWire struct {
	StoreID string
	Kind    storeevent.Kind
	Chunks  []*chunk.Compressed
}

// SnapshotTo writes a point-in-time snapshot of every live chunk to w,
// msgpack-encoded. It takes a consistent read lock for the duration of the
// compression pass; callers should expect it to block inserts and GC on a
// large store.
func (s *Store) SnapshotTo(w io.Writer) error {
	s.mu.RLock()
	wire := snapshotWire{
		StoreID: s.id.String(),
		Kind:    s.id.Kind,
		Chunks:  make([]*chunk.Compressed, 0, len(s.chunks)),
	}
	for _, c := range s.chunks {
		compressed, err := c.Compress()
		if err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("chunkstore: snapshot chunk %s: %w", c.ChunkID, err)
		}
		wire.Chunks = append(wire.Chunks, compressed)
	}
	s.mu.RUnlock()

	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(wire); err != nil {
		return fmt.Errorf("chunkstore: encode snapshot: %w", err)
	}
	return nil
}

// RestoreFrom rebuilds a store's chunk set from a snapshot previously
// written by SnapshotTo, re-inserting every chunk through InsertChunk so
// indices, schema, and row-id bookkeeping are rebuilt from scratch rather
// than trusted verbatim. The store must be empty; RestoreFrom does not
// merge into existing content.
func (s *Store) RestoreFrom(r io.Reader) error {
	var wire snapshotWire
	dec := msgpack.NewDecoder(r)
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("chunkstore: decode snapshot: %w", err)
	}

	s.mu.Lock()
	if len(s.chunks) != 0 {
		s.mu.Unlock()
		return fmt.Errorf("chunkstore: RestoreFrom requires an empty store, has %d chunks", len(s.chunks))
	}
	s.mu.Unlock()

	for _, compressed := range wire.Chunks {
		c, err := compressed.Decompress()
		if err != nil {
			return fmt.Errorf("chunkstore: restore chunk %s: %w", compressed.ChunkID, err)
		}
		if _, err := s.InsertChunk(c); err != nil {
			return fmt.Errorf("chunkstore: restore chunk %s: %w", c.ChunkID, err)
		}
	}
	return nil
}

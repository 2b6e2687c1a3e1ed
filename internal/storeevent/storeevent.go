// Package storeevent defines ChunkStoreEvent, the unit of change a
// ChunkStore publishes after every successful mutation, and StoreId, the
// identifier distinguishing one store from another within a bundle.
package storeevent

import (
	"sync/atomic"

	"github.com/google/uuid"

	"rerun-core/internal/chunk"
)

// StoreId identifies one ChunkStore within a process. Recording stores and
// Blueprint stores are architecturally identical; Kind only changes how a
// StoreBundle treats their lifecycle.
type StoreId struct {
	Kind Kind
	ID   uuid.UUID
}

// Kind distinguishes a Recording store (user data) from a Blueprint store
// (persisted viewer state).
type Kind int

const (
	KindRecording Kind = iota
	KindBlueprint
)

func (k Kind) String() string {
	if k == KindBlueprint {
		return "blueprint"
	}
	return "recording"
}

// NewStoreId mints a fresh StoreId of the given kind.
func NewStoreId(kind Kind) StoreId { return StoreId{Kind: kind, ID: uuid.New()} }

func (s StoreId) String() string { return s.Kind.String() + ":" + s.ID.String() }

// Generation is the store's monotonic (insert count, gc count) pair, used
// by readers to detect whether a cached view is stale.
type Generation struct {
	InsertID uint64
	GcID     uint64
}

// DiffKind distinguishes the two mutation shapes a store can emit.
type DiffKind int

const (
	Addition DiffKind = iota
	Deletion
)

func (k DiffKind) String() string {
	if k == Deletion {
		return "deletion"
	}
	return "addition"
}

// CompactionReport annotates an Addition event with whether the inserted
// chunk resulted from a compaction merge, and if so, which chunk it
// replaced.
type CompactionReport struct {
	Compacted    bool
	ReplacedID   chunk.ID
	SourceChunks []chunk.ID
}

// Diff describes a single chunk's change.
type Diff struct {
	Kind       DiffKind
	Chunk      *chunk.Chunk
	Compaction *CompactionReport
}

// Event is the fully addressed unit of change a ChunkStore publishes.
// EventID is a process-wide monotonic counter so subscribers across stores
// can interleave events into one timeline if they choose to.
type Event struct {
	StoreID    StoreId
	Generation Generation
	EventID    uint64
	Diff       Diff
}

// nextEventID is the process-wide monotonic counter backing Event.EventID.
// Stores in a bundle may publish concurrently (cross-store ordering is
// explicitly undefined), so this must be safe for concurrent use.
var nextEventID atomic.Uint64

// NextEventID returns the next process-wide monotonic event id, starting
// at 1.
func NextEventID() uint64 { return nextEventID.Add(1) }

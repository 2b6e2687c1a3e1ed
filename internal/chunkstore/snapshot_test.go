package chunkstore

import (
	"bytes"
	"context"
	"testing"

	"rerun-core/internal/component"
	"rerun-core/internal/query"
	"rerun-core/internal/storeevent"
)

func TestSnapshotRoundTripsTemporalAndStaticChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompactionDisabled = true
	src := newTestStore(t, cfg)
	src.InsertChunk(temporalChunk(t, 10, rid(1), 1.0))
	src.InsertChunk(temporalChunk(t, 20, rid(2), 2.0))
	src.InsertChunk(staticChunk(t, rid(3), 9.0))

	var buf bytes.Buffer
	if err := src.SnapshotTo(&buf); err != nil {
		t.Fatalf("SnapshotTo() error: %v", err)
	}

	dst := newTestStore(t, cfg)
	if err := dst.RestoreFrom(&buf); err != nil {
		t.Fatalf("RestoreFrom() error: %v", err)
	}

	if dst.NumChunks() != src.NumChunks() {
		t.Fatalf("NumChunks() = %d, want %d", dst.NumChunks(), src.NumChunks())
	}

	gotLatest, err := dst.LatestAt(context.Background(), query.LatestAtRequest{Entity: cam, Component: pos, Timeline: "frame", At: 100})
	if err != nil {
		t.Fatalf("LatestAt() error: %v", err)
	}
	if gotLatest.NumRows() != 1 || gotLatest.Components[pos].Cells[0][0].(float64) != 9.0 {
		t.Fatalf("expected the restored static overlay (9.0) to win LatestAt, got rows=%v", gotLatest.Components[pos])
	}

	gotRange, err := dst.Range(context.Background(), query.RangeRequest{Entity: cam, Component: pos, Timeline: "frame", Range: component.Everything})
	if err != nil {
		t.Fatalf("Range() error: %v", err)
	}
	if gotRange.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2 temporal rows", gotRange.NumRows())
	}
	first := gotRange.Components[pos].Cells[0][0].(float64)
	second := gotRange.Components[pos].Cells[1][0].(float64)
	if first != 1.0 || second != 2.0 {
		t.Fatalf("restored range rows out of order: got %v then %v", first, second)
	}
}

func TestSnapshotRoundTripsSchema(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompactionDisabled = true
	src := newTestStore(t, cfg)
	src.InsertChunk(temporalChunk(t, 10, rid(1), 1.0))

	var buf bytes.Buffer
	if err := src.SnapshotTo(&buf); err != nil {
		t.Fatalf("SnapshotTo() error: %v", err)
	}
	dst := newTestStore(t, cfg)
	if err := dst.RestoreFrom(&buf); err != nil {
		t.Fatalf("RestoreFrom() error: %v", err)
	}

	schema := dst.Schema()
	if len(schema.Entries) != 1 || schema.Entries[0].Component != pos {
		t.Fatalf("Schema() = %+v, want a single entry for %v", schema, pos)
	}
}

func TestRestoreFromRejectsNonEmptyStore(t *testing.T) {
	cfg := DefaultConfig()
	src := newTestStore(t, cfg)
	src.InsertChunk(staticChunk(t, rid(1), 1.0))
	var buf bytes.Buffer
	if err := src.SnapshotTo(&buf); err != nil {
		t.Fatalf("SnapshotTo() error: %v", err)
	}

	dst := newTestStore(t, cfg)
	dst.InsertChunk(staticChunk(t, rid(2), 2.0))
	if err := dst.RestoreFrom(&buf); err == nil {
		t.Fatal("expected RestoreFrom to reject a non-empty store")
	}
}

func TestRestoreFromPreservesStoreKind(t *testing.T) {
	cfg := DefaultConfig()
	src, err := New(storeevent.KindBlueprint, cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	src.InsertChunk(staticChunk(t, rid(1), 1.0))

	var buf bytes.Buffer
	if err := src.SnapshotTo(&buf); err != nil {
		t.Fatalf("SnapshotTo() error: %v", err)
	}

	dst, err := New(storeevent.KindBlueprint, cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := dst.RestoreFrom(&buf); err != nil {
		t.Fatalf("RestoreFrom() error: %v", err)
	}
	if dst.ID().Kind != storeevent.KindBlueprint {
		t.Fatalf("ID().Kind = %v, want KindBlueprint", dst.ID().Kind)
	}
}

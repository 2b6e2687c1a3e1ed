package chunk

import (
	"testing"

	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
	"rerun-core/internal/rowid"
)

var posDesc = component.NewDescriptor("Position3D")

func rid(ns, counter uint64) rowid.RowId { return rowid.RowId{TimeNs: ns, Counter: counter} }

func seqTimeline(name string) component.Timeline {
	return component.Timeline{Name: name, Type: component.TimeTypeSequence}
}

func mustChunk(t *testing.T, id ID, path entitypath.Path, rowIDs []rowid.RowId, timelines map[string]TimeColumn, components map[component.Descriptor]ComponentColumn) *Chunk {
	t.Helper()
	c, err := New(id, path, rowIDs, timelines, components)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestNewRejectsColumnLengthMismatch(t *testing.T) {
	path := entitypath.New("camera")
	_, err := New(NewID(), path, []rowid.RowId{rid(1, 0), rid(2, 0)}, nil, map[component.Descriptor]ComponentColumn{
		posDesc: {Cells: []Cell{{1.0}}},
	})
	if err == nil {
		t.Fatal("expected error for mismatched column length")
	}
}

func TestIsStatic(t *testing.T) {
	path := entitypath.New("camera")
	static := mustChunk(t, NewID(), path, []rowid.RowId{rid(1, 0)}, nil, map[component.Descriptor]ComponentColumn{
		posDesc: {Cells: []Cell{{1.0}}},
	})
	if !static.IsStatic() {
		t.Fatal("chunk with no timelines should be static")
	}

	temporal := mustChunk(t, NewID(), path, []rowid.RowId{rid(1, 0)}, map[string]TimeColumn{
		"frame": {Timeline: seqTimeline("frame"), Times: []component.TimeInt{1}},
	}, map[component.Descriptor]ComponentColumn{
		posDesc: {Cells: []Cell{{1.0}}},
	})
	if temporal.IsStatic() {
		t.Fatal("chunk with a timeline should not be static")
	}
}

func TestSortIfUnsortedIsIdempotentWhenSorted(t *testing.T) {
	path := entitypath.New("camera")
	c := mustChunk(t, NewID(), path, []rowid.RowId{rid(1, 0), rid(2, 0)}, nil, nil)
	if !c.IsSorted {
		t.Fatal("ascending row ids should be detected as sorted")
	}
	if c.SortIfUnsorted() != c {
		t.Fatal("SortIfUnsorted on an already-sorted chunk should return the receiver unchanged")
	}
}

func TestSortIfUnsortedPermutesAllColumns(t *testing.T) {
	path := entitypath.New("camera")
	rowIDs := []rowid.RowId{rid(3, 0), rid(1, 0), rid(2, 0)}
	c := mustChunk(t, NewID(), path, rowIDs, map[string]TimeColumn{
		"frame": {Timeline: seqTimeline("frame"), Times: []component.TimeInt{30, 10, 20}},
	}, map[component.Descriptor]ComponentColumn{
		posDesc: {Cells: []Cell{{3.0}, {1.0}, {2.0}}},
	})
	if c.IsSorted {
		t.Fatal("expected unsorted construction (3,1,2)")
	}

	sorted := c.SortIfUnsorted()
	if !sorted.IsSorted {
		t.Fatal("SortIfUnsorted should mark the result sorted")
	}
	wantRowIDs := []rowid.RowId{rid(1, 0), rid(2, 0), rid(3, 0)}
	for i, want := range wantRowIDs {
		if sorted.RowIDs[i] != want {
			t.Fatalf("RowIDs[%d] = %v, want %v", i, sorted.RowIDs[i], want)
		}
	}
	wantTimes := []component.TimeInt{10, 20, 30}
	for i, want := range wantTimes {
		if sorted.Timelines["frame"].Times[i] != want {
			t.Fatalf("Timelines[frame].Times[%d] = %v, want %v", i, sorted.Timelines["frame"].Times[i], want)
		}
	}
	wantCells := []float64{1.0, 2.0, 3.0}
	for i, want := range wantCells {
		got := sorted.Components[posDesc].Cells[i][0].(float64)
		if got != want {
			t.Fatalf("Components[pos].Cells[%d] = %v, want %v", i, got, want)
		}
	}
}

func buildTemporalChunk(t *testing.T) *Chunk {
	t.Helper()
	path := entitypath.New("camera")
	return mustChunk(t, NewID(), path,
		[]rowid.RowId{rid(1, 0), rid(2, 0), rid(3, 0), rid(4, 0)},
		map[string]TimeColumn{
			"frame": {Timeline: seqTimeline("frame"), Times: []component.TimeInt{10, 20, 20, 30}},
		},
		map[component.Descriptor]ComponentColumn{
			posDesc: {Cells: []Cell{{1.0}, {2.0}, nil, {4.0}}},
		})
}

func TestLatestAtPicksMaxTimeThenRowId(t *testing.T) {
	c := buildTemporalChunk(t)

	got := c.LatestAt(LatestAtQuery{Timeline: "frame", At: 25}, posDesc)
	if got.NumRows() != 1 {
		t.Fatalf("NumRows() = %d, want 1", got.NumRows())
	}
	if got.RowIDs[0] != rid(2, 0) {
		t.Fatalf("expected row at t=20 (rid 2), got %v", got.RowIDs[0])
	}
}

func TestLatestAtSkipsNullCells(t *testing.T) {
	c := buildTemporalChunk(t)
	// At t=20 there are two rows; the one at rid 3 is null for posDesc and
	// must be skipped even though its time ties the non-null row.
	got := c.LatestAt(LatestAtQuery{Timeline: "frame", At: 20}, posDesc)
	if got.NumRows() != 1 || got.RowIDs[0] != rid(2, 0) {
		t.Fatalf("expected the non-null row at rid 2, got rows=%v", got.RowIDs)
	}
}

func TestLatestAtNoMatchReturnsEmpty(t *testing.T) {
	c := buildTemporalChunk(t)
	got := c.LatestAt(LatestAtQuery{Timeline: "frame", At: 5}, posDesc)
	if got.NumRows() != 0 {
		t.Fatalf("expected empty result before any row's time, got %d rows", got.NumRows())
	}
}

func TestLatestAtUnknownTimelineReturnsEmpty(t *testing.T) {
	c := buildTemporalChunk(t)
	got := c.LatestAt(LatestAtQuery{Timeline: "does-not-exist", At: component.MaxTime}, posDesc)
	if got.NumRows() != 0 {
		t.Fatal("expected empty result for unknown timeline")
	}
}

func TestRangeFiltersByIntervalAndNullness(t *testing.T) {
	c := buildTemporalChunk(t)
	got := c.Range(RangeQuery{Timeline: "frame", Range: component.Range{Min: 15, Max: 30}}, posDesc)
	// rows at t=20 (null, skipped), t=20 (2.0), t=30 (4.0) are in range;
	// the null row must be dropped, leaving exactly two rows.
	if got.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2", got.NumRows())
	}
	if got.RowIDs[0] != rid(2, 0) || got.RowIDs[1] != rid(4, 0) {
		t.Fatalf("unexpected row order: %v", got.RowIDs)
	}
}

func TestStaticLatestOrdersByRowIdOnly(t *testing.T) {
	path := entitypath.New("camera")
	c := mustChunk(t, NewID(), path, []rowid.RowId{rid(5, 0), rid(1, 0), rid(3, 0)}, nil,
		map[component.Descriptor]ComponentColumn{
			posDesc: {Cells: []Cell{{1.0}, {2.0}, {3.0}}},
		})

	got := c.StaticLatest(posDesc)
	if got.NumRows() != 1 {
		t.Fatalf("NumRows() = %d, want 1", got.NumRows())
	}
	if got.RowIDs[0] != rid(5, 0) {
		t.Fatalf("expected the row with the greatest RowId (5), got %v", got.RowIDs[0])
	}
}

func TestStaticLatestSkipsNullCells(t *testing.T) {
	path := entitypath.New("camera")
	c := mustChunk(t, NewID(), path, []rowid.RowId{rid(1, 0), rid(2, 0)}, nil,
		map[component.Descriptor]ComponentColumn{
			posDesc: {Cells: []Cell{{1.0}, nil}},
		})
	got := c.StaticLatest(posDesc)
	if got.NumRows() != 1 || got.RowIDs[0] != rid(1, 0) {
		t.Fatalf("expected fallback to the only non-null row, got rows=%v", got.RowIDs)
	}
}

func TestStaticLatestMissingComponentReturnsEmpty(t *testing.T) {
	path := entitypath.New("camera")
	c := mustChunk(t, NewID(), path, []rowid.RowId{rid(1, 0)}, nil, nil)
	got := c.StaticLatest(posDesc)
	if got.NumRows() != 0 {
		t.Fatal("expected empty result for a component the chunk never carried")
	}
}

func TestHeapSizeBytesNonZeroWithData(t *testing.T) {
	c := buildTemporalChunk(t)
	if c.HeapSizeBytes() == 0 {
		t.Fatal("expected nonzero heap size estimate for a populated chunk")
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	c := buildTemporalChunk(t)

	compressed, err := c.Compress()
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if compressed.HeapSizeBytes() == 0 {
		t.Fatal("expected a nonzero compressed size estimate")
	}

	got, err := compressed.Decompress()
	if err != nil {
		t.Fatalf("Decompress() error: %v", err)
	}
	if got.ChunkID != c.ChunkID {
		t.Fatalf("ChunkID = %v, want %v", got.ChunkID, c.ChunkID)
	}
	if !got.EntityPath.Equal(c.EntityPath) {
		t.Fatalf("EntityPath = %v, want %v", got.EntityPath, c.EntityPath)
	}
	if got.NumRows() != c.NumRows() {
		t.Fatalf("NumRows() = %d, want %d", got.NumRows(), c.NumRows())
	}
	for i, want := range c.RowIDs {
		if got.RowIDs[i] != want {
			t.Fatalf("RowIDs[%d] = %v, want %v", i, got.RowIDs[i], want)
		}
	}
	wantTimes := c.Timelines["frame"].Times
	gotTimes := got.Timelines["frame"].Times
	for i, want := range wantTimes {
		if gotTimes[i] != want {
			t.Fatalf("Timelines[frame].Times[%d] = %v, want %v", i, gotTimes[i], want)
		}
	}
}

func TestCellIsNull(t *testing.T) {
	var null Cell
	if !null.IsNull() {
		t.Fatal("nil Cell should be null")
	}
	clear := Cell{}
	if clear.IsNull() {
		t.Fatal("non-nil empty Cell (explicit clear) should not be null")
	}
}

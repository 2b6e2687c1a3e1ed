package storebundle

import (
	"log/slog"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"rerun-core/internal/chunk"
	"rerun-core/internal/chunkstore"
	"rerun-core/internal/component"
	"rerun-core/internal/entitypath"
	"rerun-core/internal/gc"
	"rerun-core/internal/rowid"
	"rerun-core/internal/storeevent"
)

func TestNewSchedulerRejectsNonPositiveInterval(t *testing.T) {
	b := New(nil)
	if _, err := NewScheduler(b, SchedulerOptions{Interval: 0}); err == nil {
		t.Fatal("expected an error for a zero interval")
	}
}

func TestSchedulerSweepsEveryStoreOnTick(t *testing.T) {
	b := New(nil)
	s, err := b.CreateStore(storeevent.KindRecording, chunkstore.DefaultConfig())
	if err != nil {
		t.Fatalf("CreateStore() error: %v", err)
	}
	path := entitypath.New("camera")
	desc := component.NewDescriptor("Position3D")
	c, err := chunk.New(chunk.NewID(), path, []rowid.RowId{{TimeNs: 1}}, nil,
		map[component.Descriptor]chunk.ComponentColumn{desc: {Cells: []chunk.Cell{{1.0}}}})
	if err != nil {
		t.Fatalf("chunk.New() error: %v", err)
	}
	if _, err := s.InsertChunk(c); err != nil {
		t.Fatalf("InsertChunk() error: %v", err)
	}
	if s.NumChunks() != 1 {
		t.Fatalf("NumChunks() = %d, want 1 before the sweep", s.NumChunks())
	}

	sched, err := NewScheduler(b, SchedulerOptions{
		Interval: 20 * time.Millisecond,
		Gc:       chunkstore.GcOptions{Target: gc.Target{Kind: gc.Everything}},
	})
	if err != nil {
		t.Fatalf("NewScheduler() error: %v", err)
	}
	if err := sched.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.NumChunks() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the scheduled sweep to evict the chunk within the deadline")
}

func TestSlogLevelToHclogMapping(t *testing.T) {
	cases := []struct {
		in   slog.Level
		want hclog.Level
	}{
		{slog.LevelDebug, hclog.Debug},
		{slog.LevelInfo, hclog.Info},
		{slog.LevelWarn, hclog.Warn},
		{slog.LevelError, hclog.Error},
	}
	for _, tc := range cases {
		if got := slogLevelToHclog(tc.in); got != tc.want {
			t.Errorf("slogLevelToHclog(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

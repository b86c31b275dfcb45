package indexdb

import (
	"path/filepath"
	"testing"

	"spheroid.gg/internal/persistence/snapshot"
	"spheroid.gg/internal/sim/room"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSnapshotIndexing(t *testing.T) {
	s := openTestIndex(t)
	s.RecordRoom("arena-1", 42)

	for _, tick := range []uint64{1200, 2400, 3600} {
		s.RecordSnapshot(
			filepath.Join("rooms", "arena-1", "x.snap.zst"),
			snapshot.SnapshotV1{
				Header: snapshot.Header{Version: 1, RoomID: "arena-1", Tick: tick},
				Digest: "d",
				State: room.StateExport{
					Tick:  tick,
					Units: []room.UnitRuntime{{ID: 1}},
				},
			},
		)
	}
	s.Flush()

	path, tick, err := s.LatestSnapshot("arena-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if tick != 3600 || path == "" {
		t.Fatalf("latest = %q at %d, want tick 3600", path, tick)
	}

	if _, _, err := s.LatestSnapshot("missing"); err == nil {
		t.Fatalf("unknown room returned a snapshot")
	}
}

func TestDesyncRecording(t *testing.T) {
	s := openTestIndex(t)

	s.RecordDesync("arena-1", 500, 2, "peer", "authority")
	s.RecordDesync("arena-1", 510, 2, "peer2", "authority2")
	s.RecordDesync("arena-2", 10, 1, "a", "b")
	s.Flush()

	n, err := s.DesyncCount("arena-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("desyncs = %d, want 2", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openTestIndex(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Writes after close are silently dropped, not panics.
	s.RecordRoom("late", 1)
	s.RecordDesync("late", 1, 0, "x", "y")
}

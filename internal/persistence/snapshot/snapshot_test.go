package snapshot

import (
	"path/filepath"
	"reflect"
	"testing"

	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/sim/room"
)

func sampleSnapshot() SnapshotV1 {
	return SnapshotV1{
		Header:     Header{Version: 1, RoomID: "arena-1", Tick: 2400},
		Seed:       42,
		TickMs:     50,
		BaseRadius: 150,
		MaxPlayers: 16,
		Digest:     "deadbeef",
		State: room.StateExport{
			Tick:       2400,
			State:      "RUNNING",
			NextUnitID: 3,
			Slots: []room.SlotState{
				{Slot: 0, Name: "host"},
				{Slot: 1, Name: "guest"},
			},
			Units: []room.UnitRuntime{
				{
					ID:          1,
					OwnerSlot:   0,
					Pin:         "4312",
					Position:    [3]float64{150.2, 0.1, -3},
					Orientation: [4]float64{0, 0, 0, 1},
					Velocity:    [3]float64{0, 12, 0},
					HP:          100,
					Mode:        protocol.ModeGrounded,
					Path: &room.PathState{
						Waypoints: [][3]float64{{150, 0, 0}, {0, 150, 0}},
						Index:     1,
						Closed:    true,
					},
				},
				{
					ID:           2,
					OwnerSlot:    1,
					OperatorSlot: 1,
					Position:     [3]float64{0, 160, 0},
					Orientation:  [4]float64{0, 0.7071, 0, 0.7071},
					HP:           80,
					Mode:         protocol.ModeAirborne,
					Altitude:     8.5,
					VerticalVel:  -2.5,
					Forward:      true,
				},
			},
			Cooldowns: []room.SeatCooldown{
				{Slot: 1, UnitID: 1, UntilTick: 2440, Failures: 2},
			},
		},
	}
}

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms", "arena-1", "tick-000000002400.snap.zst")
	want := sampleSnapshot()

	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestReadSnapshotMissingFile(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "absent.snap.zst")); err == nil {
		t.Fatalf("missing file did not error")
	}
}

type recordCapture struct {
	paths []string
	snaps []SnapshotV1
}

func (r *recordCapture) RecordSnapshot(path string, snap SnapshotV1) {
	r.paths = append(r.paths, path)
	r.snaps = append(r.snaps, snap)
}

func TestArchiverWritesAndRecords(t *testing.T) {
	dir := t.TempDir()
	rec := &recordCapture{}
	a := NewArchiver(dir, Params{Seed: 7, TickMs: 50, BaseRadius: 150, MaxPlayers: 16}, rec)

	state := sampleSnapshot().State
	a.Archive("arena-9", 1200, "abc123", state)

	if len(rec.paths) != 1 {
		t.Fatalf("recorder called %d times", len(rec.paths))
	}
	got, err := ReadSnapshot(rec.paths[0])
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if got.Header.RoomID != "arena-9" || got.Header.Tick != 1200 || got.Digest != "abc123" {
		t.Fatalf("archived header = %+v digest = %s", got.Header, got.Digest)
	}
	if got.Seed != 7 || len(got.State.Units) != 2 {
		t.Fatalf("archived body = %+v", got)
	}
}

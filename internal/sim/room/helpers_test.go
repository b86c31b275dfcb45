package room

import (
	"encoding/json"
	"io"
	"log"
	"testing"

	"spheroid.gg/internal/protocol"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestRoom(seed int64, opts ...Option) *Room {
	return New(Config{ID: "test", Seed: seed, TickMs: 50}, testLogger(), opts...)
}

// joinSlot runs a join through a single tick boundary and returns the
// assigned slot and the player's outbound channel.
func joinSlot(t *testing.T, r *Room, name string) (int, chan []byte) {
	t.Helper()
	out := make(chan []byte, 32)
	resp := make(chan JoinResponse, 1)
	r.StepOnce([]JoinRequest{{Name: name, Out: out, Resp: resp}}, nil)
	jr := <-resp
	if jr.Slot < 0 {
		t.Fatalf("join rejected")
	}
	return jr.Slot, out
}

// hostManifest spawns one unit per spec entry from the host slot and steps
// once.
func hostManifest(t *testing.T, r *Room, units ...protocol.UnitSpawn) {
	t.Helper()
	if !r.Enqueue(HostSlot, protocol.SpawnMsg{Type: protocol.TypeSpawn, Units: units}) {
		t.Fatalf("manifest not enqueued")
	}
	r.StepOnce(nil, nil)
}

func basicUnit(id int64, owner int) protocol.UnitSpawn {
	return protocol.UnitSpawn{ID: id, OwnerSlot: owner, Position: [3]float64{1, 0, 0}}
}

func stepN(r *Room, n int) {
	for i := 0; i < n; i++ {
		r.StepOnce(nil, nil)
	}
}

// lastOut drains a player's channel and decodes the newest message into a
// generic map keyed by type.
func lastOut(t *testing.T, out chan []byte) map[string]any {
	t.Helper()
	var last []byte
	for {
		select {
		case b := <-out:
			last = b
			continue
		default:
		}
		break
	}
	if last == nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(last, &m); err != nil {
		t.Fatalf("decode outbound: %v", err)
	}
	return m
}

func drainOut(out chan []byte) {
	for {
		select {
		case <-out:
			continue
		default:
		}
		return
	}
}

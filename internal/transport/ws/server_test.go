package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/relay"
	"spheroid.gg/internal/sim/room"
)

// busBroadcaster publishes room output through the relay, the same wiring
// the server binary uses.
type busBroadcaster struct{ bus *relay.Relay }

func (b busBroadcaster) BroadcastSnapshot(roomID string, snap protocol.SnapshotMsg) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	b.bus.Publish(RoomChannel(roomID), raw)
}

func (b busBroadcaster) Announce(a protocol.AnnounceMsg) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	b.bus.Publish(LobbyChannel, raw)
}

func startTestServer(t *testing.T) (*httptest.Server, *room.Manager, *relay.Relay) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	bus := relay.New(relay.Limits{
		PublishWindow:   time.Second,
		PublishMax:      1000,
		MaxPayloadBytes: 64 * 1024,
	})
	mgr := room.NewManager(context.Background(), room.Config{TickMs: 10}, logger,
		room.WithBroadcaster(busBroadcaster{bus: bus}))
	t.Cleanup(mgr.Shutdown)

	srv := httptest.NewServer(NewServer(mgr, bus, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, mgr, bus
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialJoin(t *testing.T, srv *httptest.Server, roomID, name string) (*websocket.Conn, protocol.JoinAckMsg) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	join := protocol.JoinMsg{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.Version,
		RoomID:          roomID,
		Name:            name,
	}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatalf("send join: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	var ack protocol.JoinAckMsg
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Type != protocol.TypeJoinAck {
		t.Fatalf("ack = %s err = %v", raw, err)
	}
	return conn, ack
}

func TestHandshakeAssignsSlotsAndCreatesRoom(t *testing.T) {
	srv, mgr, _ := startTestServer(t)

	host, hostAck := dialJoin(t, srv, "arena", "host")
	defer host.Close()
	if hostAck.Slot != 0 {
		t.Fatalf("host slot = %d", hostAck.Slot)
	}
	if mgr.Get("arena") == nil {
		t.Fatalf("room not created by first join")
	}

	guest, guestAck := dialJoin(t, srv, "arena", "guest")
	defer guest.Close()
	if guestAck.Slot != 1 {
		t.Fatalf("guest slot = %d", guestAck.Slot)
	}
	if guestAck.Seed != hostAck.Seed || guestAck.TickMs != hostAck.TickMs {
		t.Fatalf("acks disagree: %+v vs %+v", hostAck, guestAck)
	}
}

func TestHandshakeRejectsVersionMismatch(t *testing.T) {
	srv, _, _ := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	join := protocol.JoinMsg{
		Type:            protocol.TypeJoin,
		ProtocolVersion: "0.9",
		RoomID:          "arena",
	}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatalf("send join: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reject: %v", err)
	}
	var em protocol.ErrorMsg
	if err := json.Unmarshal(raw, &em); err != nil || em.Code != protocol.ErrVersionMismatch {
		t.Fatalf("reject = %s", raw)
	}
	// The server closes after the rejection.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection stayed open after version reject")
	}
}

func TestSpawnFlowsToSnapshotBroadcast(t *testing.T) {
	srv, _, _ := startTestServer(t)

	host, _ := dialJoin(t, srv, "match-1", "host")
	defer host.Close()
	guest, _ := dialJoin(t, srv, "match-1", "guest")
	defer guest.Close()

	spawn := protocol.SpawnMsg{
		Type:  protocol.TypeSpawn,
		Units: []protocol.UnitSpawn{{ID: 1, OwnerSlot: 0, Position: [3]float64{1, 0, 0}}},
	}
	if err := host.WriteJSON(spawn); err != nil {
		t.Fatalf("send spawn: %v", err)
	}

	// The guest's subscription delivers the running room's snapshots.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = guest.SetReadDeadline(time.Now().Add(time.Second))
		_, raw, err := guest.ReadMessage()
		if err != nil {
			t.Fatalf("guest read: %v", err)
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			continue
		}
		if base.Type != protocol.TypeSnapshot {
			continue
		}
		var snap protocol.SnapshotMsg
		if err := json.Unmarshal(raw, &snap); err != nil {
			t.Fatalf("snapshot decode: %v", err)
		}
		if len(snap.Units) == 1 && snap.Units[0].ID == 1 {
			return
		}
	}
	t.Fatalf("no snapshot with the spawned unit arrived")
}

func TestGuestManifestSpawnsNothing(t *testing.T) {
	srv, mgr, _ := startTestServer(t)

	host, _ := dialJoin(t, srv, "locked", "host")
	defer host.Close()
	guest, _ := dialJoin(t, srv, "locked", "guest")
	defer guest.Close()

	spawn := protocol.SpawnMsg{
		Type:  protocol.TypeSpawn,
		Units: []protocol.UnitSpawn{{ID: 1, OwnerSlot: 1, Position: [3]float64{1, 0, 0}}},
	}
	if err := guest.WriteJSON(spawn); err != nil {
		t.Fatalf("send spawn: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	r := mgr.Get("locked")
	if r == nil {
		t.Fatalf("room missing")
	}
	// No snapshot traffic and the room still waits for its authority.
	_ = host.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := host.ReadMessage(); err == nil {
		base, derr := protocol.DecodeBase(raw)
		if derr == nil && base.Type == protocol.TypeSnapshot {
			t.Fatalf("guest manifest produced snapshots: %s", raw)
		}
	}
}

package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spheroid.gg/internal/protocol"
)

func startClient(t *testing.T, url, roomID, name string) (*Client, context.CancelFunc) {
	t.Helper()
	c := NewClient(url, protocol.JoinMsg{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.Version,
		RoomID:          roomID,
		Name:            name,
	}, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	return c, cancel
}

func waitForType(t *testing.T, c *Client, typ string) []byte {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case raw := <-c.In:
			base, err := protocol.DecodeBase(raw)
			if err != nil {
				continue
			}
			if base.Type == typ {
				return raw
			}
		case <-deadline:
			t.Fatalf("no %s frame arrived", typ)
		}
	}
}

func TestClientJoinsAndReceivesSnapshots(t *testing.T) {
	srv, _, _ := startTestServer(t)

	host, cancel := startClient(t, wsURL(srv), "clientroom", "host")
	defer cancel()
	defer host.Close()

	raw := waitForType(t, host, protocol.TypeJoinAck)
	var ack protocol.JoinAckMsg
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Slot != 0 {
		t.Fatalf("ack = %s err = %v", raw, err)
	}

	if err := host.Send(protocol.SpawnMsg{
		Type:  protocol.TypeSpawn,
		Units: []protocol.UnitSpawn{{ID: 1, OwnerSlot: 0, Position: [3]float64{1, 0, 0}}},
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	guest, gcancel := startClient(t, wsURL(srv), "clientroom", "guest")
	defer gcancel()
	defer guest.Close()
	waitForType(t, guest, protocol.TypeJoinAck)
	waitForType(t, guest, protocol.TypeSnapshot)
}

func TestClientQueuesWhileDisconnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/v1/ws", protocol.JoinMsg{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.Version,
		RoomID:          "nowhere",
	}, log.New(io.Discard, "", 0))

	if err := c.Send(protocol.MoveMsg{Type: protocol.TypeMove, Forward: true}); err != nil {
		t.Fatalf("send while disconnected: %v", err)
	}
	c.mu.Lock()
	queued := len(c.pending)
	c.mu.Unlock()
	if queued != 1 {
		t.Fatalf("pending = %d, want 1", queued)
	}

	c.Close()
	if err := c.Send(protocol.MoveMsg{Type: protocol.TypeMove}); err != ErrClientClosed {
		t.Fatalf("send after close = %v", err)
	}
}

// Frames queued while the link was down must reach the server in order,
// ahead of anything sent after the reconnect, even when fresh Sends race
// the replay.
func TestQueuedBacklogReplaysInOrder(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan []byte, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- raw
		}
	}))
	defer srv.Close()

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), protocol.JoinMsg{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.Version,
		RoomID:          "backlog",
	}, log.New(io.Discard, "", 0))

	const queued = 20
	for i := 1; i <= queued; i++ {
		if err := c.Send(protocol.MoveMsg{Type: protocol.TypeMove, TargetUnitID: int64(i)}); err != nil {
			t.Fatalf("queue send %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()
	defer c.Close()

	for i := 1; i <= queued; i++ {
		if err := c.Send(protocol.MoveMsg{Type: protocol.TypeMove, TargetUnitID: int64(100 + i)}); err != nil {
			t.Fatalf("live send %d: %v", i, err)
		}
	}

	read := func() []byte {
		t.Helper()
		select {
		case raw := <-frames:
			return raw
		case <-time.After(3 * time.Second):
			t.Fatalf("frame stream stalled")
		}
		return nil
	}

	var join protocol.JoinMsg
	if err := json.Unmarshal(read(), &join); err != nil || join.Type != protocol.TypeJoin {
		t.Fatalf("first frame is not the handshake")
	}
	want := make([]int64, 0, 2*queued)
	for i := 1; i <= queued; i++ {
		want = append(want, int64(i))
	}
	for i := 1; i <= queued; i++ {
		want = append(want, int64(100+i))
	}
	for _, id := range want {
		var m protocol.MoveMsg
		if err := json.Unmarshal(read(), &m); err != nil {
			t.Fatalf("decode move: %v", err)
		}
		if m.TargetUnitID != id {
			t.Fatalf("unit %d arrived out of order, want %d", m.TargetUnitID, id)
		}
	}
}

func TestClientCloseStopsRun(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/v1/ws", protocol.JoinMsg{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.Version,
		RoomID:          "nowhere",
	}, log.New(io.Discard, "", 0))

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		if err != ErrClientClosed {
			t.Fatalf("run = %v, want ErrClientClosed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop after close")
	}
}

// Package ws terminates websocket connections: the JOIN handshake, the
// per-connection writer, and routing of decoded intents into rooms through
// the relay gate.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/relay"
	"spheroid.gg/internal/sim/room"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	outboundQueue    = 64
)

type Server struct {
	rooms *room.Manager
	bus   *relay.Relay
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(rooms *room.Manager, bus *relay.Relay, logger *log.Logger) *Server {
	return &Server{
		rooms: rooms,
		bus:   bus,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// RoomChannel names the relay channel a room's snapshots fan out on.
func RoomChannel(roomID string) string { return "room:" + roomID }

// LobbyChannel carries the periodic room announcements.
const LobbyChannel = "lobby"

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		rm, slot, connID, out := s.handshake(conn)
		if rm == nil {
			return
		}
		defer func() {
			rm.Leave() <- slot
			s.bus.Detach(connID)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Malformed messages are discarded at the boundary and
		// never reach the room.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			msg, err := protocol.Decode(raw)
			if err != nil {
				continue
			}
			if _, isLeave := msg.(protocol.LeaveMsg); isLeave {
				cancel()
				return
			}
			if err := s.bus.Gate(connID, len(raw)); err != nil {
				if errors.Is(err, relay.ErrPayloadTooLarge) {
					s.push(out, protocol.NewError(protocol.ErrPayloadTooLarge, err.Error()))
				}
				// Rate-limited intents are dropped, not queued.
				continue
			}
			rm.Enqueue(slot, msg)
		}
	}
}

// handshake expects JOIN as the first frame. A protocol version mismatch or
// missing room id is a hard rejection.
func (s *Server) handshake(conn *websocket.Conn) (rm *room.Room, slot int, connID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, 0, "", nil
	}

	msg, err := protocol.Decode(raw)
	if err != nil {
		code := protocol.ErrProtoBadRequest
		if strings.HasPrefix(err.Error(), protocol.ErrVersionMismatch) {
			code = protocol.ErrVersionMismatch
		}
		s.reject(conn, code, err.Error())
		return nil, 0, "", nil
	}
	join, ok := msg.(protocol.JoinMsg)
	if !ok {
		s.reject(conn, protocol.ErrProtoBadRequest, "expected JOIN")
		return nil, 0, "", nil
	}

	// First joiner of an unknown room creates it and becomes its authority.
	r := s.rooms.Get(join.RoomID)
	if r == nil {
		created, err := s.rooms.Create(join.RoomID, SeedFromID(join.RoomID))
		if err != nil {
			// Lost a create race; the other connection's room serves us.
			created = s.rooms.Get(join.RoomID)
		}
		r = created
	}
	if r == nil {
		s.reject(conn, protocol.ErrRoomNotFound, "room unavailable")
		return nil, 0, "", nil
	}

	out = make(chan []byte, outboundQueue)
	respCh := make(chan room.JoinResponse, 1)
	select {
	case r.Join() <- room.JoinRequest{Name: join.Name, Out: out, Resp: respCh}:
	case <-r.Stopped():
		s.reject(conn, protocol.ErrRoomNotFound, "room ended")
		return nil, 0, "", nil
	}
	resp := <-respCh
	if resp.Slot < 0 {
		s.reject(conn, protocol.ErrRoomFull, "no free slot")
		return nil, 0, "", nil
	}

	if err := writeJSON(conn, resp.Ack); err != nil {
		r.Leave() <- resp.Slot
		return nil, 0, "", nil
	}

	connID = s.bus.Attach(out)
	_ = s.bus.Subscribe(connID, RoomChannel(r.ID()))
	_ = s.bus.Subscribe(connID, LobbyChannel)
	if resp.Slot == room.HostSlot {
		_ = s.bus.BindAuthority(connID, r.ID())
	}

	s.log.Printf("room %s: slot %d connected", r.ID(), resp.Slot)
	return r, resp.Slot, connID, out
}

func (s *Server) reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(time.Second))
}

// push delivers a direct reply without blocking the reader.
func (s *Server) push(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// SeedFromID derives a stable terrain seed for implicitly created rooms, so
// a reconnecting authority gets the same world back.
func SeedFromID(roomID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(roomID))
	return int64(h.Sum64())
}

// Package relay is the channel-addressed broadcast bus between connections
// and rooms. It never touches simulation state; rooms publish snapshots into
// it and connections publish intents out of it.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownConn     = errors.New("relay: unknown connection")
	ErrNotSubscribed   = errors.New("relay: not subscribed to channel")
	ErrPayloadTooLarge = errors.New("relay: payload exceeds limit")
	ErrRateLimited     = errors.New("relay: rate limit exceeded")
)

// Limits harden the bus. Windows are wall clock; the relay runs outside any
// tick loop.
type Limits struct {
	PublishWindow   time.Duration
	PublishMax      int
	MaxPayloadBytes int
}

type conn struct {
	id       string
	out      chan []byte
	channels map[string]struct{}
	rl       rateWindow

	// Rooms this connection is the authority for. Detach fires the
	// authority-lost hook for each.
	authority map[string]struct{}
}

type rateWindow struct {
	start time.Time
	count int
}

// allow implements a sliding-window counter: the window restarts once the
// period elapses, and messages beyond max inside one window are dropped,
// never queued.
func (w *rateWindow) allow(now time.Time, window time.Duration, max int) bool {
	if window <= 0 || max <= 0 {
		return true
	}
	if now.Sub(w.start) >= window {
		w.start = now
		w.count = 0
	}
	w.count++
	return w.count <= max
}

// Relay fans broadcasts out to channel subscribers, excluding the sender.
type Relay struct {
	mu       sync.Mutex
	conns    map[string]*conn
	channels map[string]map[string]*conn

	limits Limits
	now    func() time.Time

	// onAuthorityLost runs outside the lock when an authority connection
	// detaches; the server tears the room down from it.
	onAuthorityLost func(roomID string)
}

type Option func(*Relay)

func WithAuthorityLostHook(fn func(roomID string)) Option {
	return func(r *Relay) { r.onAuthorityLost = fn }
}

// withClock is for tests.
func withClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func New(limits Limits, opts ...Option) *Relay {
	r := &Relay{
		conns:    map[string]*conn{},
		channels: map[string]map[string]*conn{},
		limits:   limits,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach registers a connection and returns its id. Outbound delivery is
// non-blocking: a full channel drops the oldest pending message.
func (r *Relay) Attach(out chan []byte) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = &conn{
		id:        id,
		out:       out,
		channels:  map[string]struct{}{},
		authority: map[string]struct{}{},
	}
	r.mu.Unlock()
	return id
}

func (r *Relay) Subscribe(connID, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[connID]
	if c == nil {
		return ErrUnknownConn
	}
	c.channels[channel] = struct{}{}
	subs := r.channels[channel]
	if subs == nil {
		subs = map[string]*conn{}
		r.channels[channel] = subs
	}
	subs[connID] = c
	return nil
}

func (r *Relay) Unsubscribe(connID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[connID]
	if c == nil {
		return
	}
	delete(c.channels, channel)
	r.dropMembership(connID, channel)
}

// BindAuthority marks connID as the authority for roomID.
func (r *Relay) BindAuthority(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[connID]
	if c == nil {
		return ErrUnknownConn
	}
	c.authority[roomID] = struct{}{}
	return nil
}

// Broadcast fans payload out to every other subscriber of channel. The
// sender never receives its own broadcast. Oversized payloads and
// rate-limited senders get a typed error and nothing is relayed.
func (r *Relay) Broadcast(connID, channel string, payload []byte) error {
	if r.limits.MaxPayloadBytes > 0 && len(payload) > r.limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), r.limits.MaxPayloadBytes)
	}

	r.mu.Lock()
	c := r.conns[connID]
	if c == nil {
		r.mu.Unlock()
		return ErrUnknownConn
	}
	if _, ok := c.channels[channel]; !ok {
		r.mu.Unlock()
		return ErrNotSubscribed
	}
	if !c.rl.allow(r.now(), r.limits.PublishWindow, r.limits.PublishMax) {
		r.mu.Unlock()
		return ErrRateLimited
	}
	targets := make([]*conn, 0, len(r.channels[channel]))
	for id, sub := range r.channels[channel] {
		if id == connID {
			continue
		}
		targets = append(targets, sub)
	}
	r.mu.Unlock()

	for _, t := range targets {
		deliver(t.out, payload)
	}
	return nil
}

// Gate applies the payload and rate limits to an inbound intent without
// relaying anything; the transport calls it before routing a message to a
// room. It shares the sender's publish window.
func (r *Relay) Gate(connID string, payloadLen int) error {
	if r.limits.MaxPayloadBytes > 0 && payloadLen > r.limits.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, payloadLen, r.limits.MaxPayloadBytes)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[connID]
	if c == nil {
		return ErrUnknownConn
	}
	if !c.rl.allow(r.now(), r.limits.PublishWindow, r.limits.PublishMax) {
		return ErrRateLimited
	}
	return nil
}

// Publish injects a system-originated message (room snapshots, lobby
// announces) into a channel. It bypasses per-connection limits; only
// connection traffic is throttled.
func (r *Relay) Publish(channel string, payload []byte) {
	r.mu.Lock()
	targets := make([]*conn, 0, len(r.channels[channel]))
	for _, sub := range r.channels[channel] {
		targets = append(targets, sub)
	}
	r.mu.Unlock()
	for _, t := range targets {
		deliver(t.out, payload)
	}
}

// Detach removes the connection, all its channel memberships, and its
// authority bindings. The authority-lost hook fires after the lock is
// released.
func (r *Relay) Detach(connID string) {
	r.mu.Lock()
	c := r.conns[connID]
	if c == nil {
		r.mu.Unlock()
		return
	}
	for channel := range c.channels {
		r.dropMembership(connID, channel)
	}
	delete(r.conns, connID)
	lost := make([]string, 0, len(c.authority))
	for roomID := range c.authority {
		lost = append(lost, roomID)
	}
	hook := r.onAuthorityLost
	r.mu.Unlock()

	if hook != nil {
		for _, roomID := range lost {
			hook(roomID)
		}
	}
}

// Subscribers reports the current membership count of a channel.
func (r *Relay) Subscribers(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[channel])
}

// dropMembership must run under r.mu.
func (r *Relay) dropMembership(connID, channel string) {
	subs := r.channels[channel]
	if subs == nil {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(r.channels, channel)
	}
}

// deliver is a non-blocking send that drops the oldest pending message when
// the receiver is full, keeping slow consumers from stalling the bus.
func deliver(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

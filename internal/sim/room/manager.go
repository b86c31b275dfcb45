package room

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Manager owns the registry of live rooms. Each room runs its own loop
// goroutine; rooms share no mutable state with each other.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	base    Config
	log     *log.Logger
	opts    []Option
	perRoom func(roomID string) []Option

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(ctx context.Context, base Config, logger *log.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		rooms:  map[string]*Room{},
		base:   base,
		log:    logger,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RoomOptions registers a factory whose options are appended to the
// manager-wide ones for each created room (per-room log and archive sinks).
// Set it before serving traffic.
func (m *Manager) RoomOptions(fn func(roomID string) []Option) {
	m.mu.Lock()
	m.perRoom = fn
	m.mu.Unlock()
}

// RoomIDs lists the currently registered rooms.
func (m *Manager) RoomIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Create registers a room under id and starts its loop.
func (m *Manager) Create(id string, seed int64) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[id]; exists {
		return nil, fmt.Errorf("room %q already exists", id)
	}

	cfg := m.base
	cfg.ID = id
	cfg.Seed = seed
	opts := m.opts
	if m.perRoom != nil {
		opts = append(append([]Option{}, opts...), m.perRoom(id)...)
	}
	r := New(cfg, m.log, opts...)
	m.rooms[id] = r

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = r.Run(m.ctx)
		m.remove(id, r)
	}()
	return r, nil
}

func (m *Manager) Get(id string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id]
}

// remove drops the registry entry once the room's loop has exited. A newer
// room created under the same id is left alone.
func (m *Manager) remove(id string, r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[id] == r {
		delete(m.rooms, id)
		m.log.Printf("room %s: removed", id)
	}
}

// Shutdown stops every room loop and waits for them to exit.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

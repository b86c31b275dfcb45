// Package room hosts the authoritative simulation of one session: the fixed
// tick loop, the player registry, unit physics on the spherical surface, the
// command gate, and snapshot construction.
package room

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/sim/terrain"
)

// Lifecycle states.
const (
	StateWaiting = "WAITING"
	StateRunning = "RUNNING"
	StateEnded   = "ENDED"
)

// NoSlot marks a free operator seat.
const NoSlot = -1

// HostSlot is reserved for the room's initiating authority.
const HostSlot = 0

// Room is a single-threaded authoritative simulation. All state must be
// accessed only from the room loop goroutine; network handlers interact
// through Enqueue and the join/leave channels.
type Room struct {
	cfg     Config
	sampler *terrain.Sampler
	log     *log.Logger

	state string
	tick  atomic.Uint64

	slots map[int]*Player
	units map[int64]*Unit

	queue      commandQueue
	seq        atomic.Uint64
	nextUnitID atomic.Int64

	seatCooldowns map[seatKey]*seatBackoff

	// Recent per-tick digests, so resync reports from peers running a few
	// ticks behind compare against the digest of the tick they actually saw.
	recentDigests [digestHistory]tickDigest

	join  chan JoinRequest
	leave chan int
	stop  chan struct{}
	once  sync.Once

	// Optional sinks; all fire-and-forget, never awaited by the tick step.
	sink        Broadcaster
	tickLogger  TickLogger
	archiveSink ArchiveSink
	desyncs     DesyncRecorder
}

const digestHistory = 128

type tickDigest struct {
	tick   uint64
	digest string
}

// Player is one occupied slot.
type Player struct {
	Slot int
	Name string
	Out  chan []byte
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Slot int
	Ack  protocol.JoinAckMsg
}

// Broadcaster receives the authoritative snapshot once per tick and the
// periodic presence announcements.
type Broadcaster interface {
	BroadcastSnapshot(roomID string, snap protocol.SnapshotMsg)
	Announce(a protocol.AnnounceMsg)
}

// TickLogger archives each tick's drained commands for deterministic replay.
type TickLogger interface {
	WriteTick(e TickLogEntry) error
}

// ArchiveSink receives periodic full-state archives.
type ArchiveSink interface {
	Archive(roomID string, tick uint64, digest string, st StateExport)
}

// DesyncRecorder is notified when a peer reports a diverging state hash.
type DesyncRecorder interface {
	RecordDesync(roomID string, tick uint64, slot int, peerDigest, authorityDigest string)
}

type Option func(*Room)

func WithBroadcaster(b Broadcaster) Option    { return func(r *Room) { r.sink = b } }
func WithTickLogger(l TickLogger) Option      { return func(r *Room) { r.tickLogger = l } }
func WithArchiveSink(s ArchiveSink) Option    { return func(r *Room) { r.archiveSink = s } }
func WithDesyncRecorder(d DesyncRecorder) Option {
	return func(r *Room) { r.desyncs = d }
}

func New(cfg Config, logger *log.Logger, opts ...Option) *Room {
	cfg.applyDefaults()
	r := &Room{
		cfg:           cfg,
		sampler:       terrain.NewSampler(cfg.Seed, cfg.BaseRadius),
		log:           logger,
		state:         StateWaiting,
		slots:         map[int]*Player{},
		units:         map[int64]*Unit{},
		seatCooldowns: map[seatKey]*seatBackoff{},
		join:          make(chan JoinRequest, 8),
		leave:         make(chan int, 8),
		stop:          make(chan struct{}),
	}
	r.nextUnitID.Store(1)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Room) ID() string          { return r.cfg.ID }
func (r *Room) TickMs() int         { return r.cfg.TickMs }
func (r *Room) Seed() int64         { return r.cfg.Seed }
func (r *Room) CurrentTick() uint64 { return r.tick.Load() }

// Join hands a join request to the loop; the response arrives on req.Resp at
// the next tick boundary.
func (r *Room) Join() chan<- JoinRequest { return r.join }

// Leave reports a departed slot. Departure of the host ends the room.
func (r *Room) Leave() chan<- int { return r.leave }

// Stopped reports loop termination.
func (r *Room) Stopped() <-chan struct{} { return r.stop }

func (r *Room) sortedUnitIDs() []int64 {
	ids := make([]int64, 0, len(r.units))
	for id := range r.units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Room) sortedSlots() []int {
	slots := make([]int, 0, len(r.slots))
	for s := range r.slots {
		slots = append(slots, s)
	}
	sort.Ints(slots)
	return slots
}

// unitOwnedBy resolves the legacy single-unit-per-slot addressing: the
// lowest-id unit whose owner is the given slot.
func (r *Room) unitOwnedBy(slot int) *Unit {
	for _, id := range r.sortedUnitIDs() {
		if r.units[id].OwnerSlot == slot {
			return r.units[id]
		}
	}
	return nil
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

package room

import (
	"encoding/json"
	"sort"
	"sync"

	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/sim/geom"
)

// Command is one gated inbound message. Commands are applied in strictly
// increasing sequence order; sequence numbers are assigned atomically at
// ingestion so ties are impossible.
type Command struct {
	Seq      uint64
	Tick     uint64
	FromSlot int
	Msg      any
}

type commandQueue struct {
	mu      sync.Mutex
	pending []Command
}

func (q *commandQueue) push(c Command) {
	q.mu.Lock()
	q.pending = append(q.pending, c)
	q.mu.Unlock()
}

func (q *commandQueue) drain() []Command {
	q.mu.Lock()
	out := q.pending
	q.pending = nil
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Enqueue admits one decoded message from a network handler. Only
// whitelisted kinds pass; everything else is dropped silently. State-
// dependent checks (authority, seat occupancy) run when the loop drains the
// queue, because only the loop may read entity state.
func (r *Room) Enqueue(fromSlot int, msg any) bool {
	switch msg.(type) {
	case protocol.MoveMsg, protocol.PathMsg, protocol.SpawnMsg,
		protocol.SeatRequestMsg, protocol.SeatReleaseMsg, protocol.ResyncRequestMsg:
	default:
		return false
	}
	r.queue.push(Command{
		Seq:      r.seq.Add(1),
		Tick:     r.tick.Load(),
		FromSlot: fromSlot,
		Msg:      msg,
	})
	return true
}

// apply dispatches one drained command. Authority violations are dropped
// without a reply so a probing sender learns nothing.
func (r *Room) apply(c Command, nowTick uint64) *RecordedCommand {
	switch m := c.Msg.(type) {
	case protocol.SpawnMsg:
		if !r.applySpawn(c.FromSlot, m) {
			return nil
		}
	case protocol.MoveMsg:
		u := r.authorizedUnit(c.FromSlot, m.TargetUnitID)
		if u == nil {
			return nil
		}
		u.applyMove(m)
	case protocol.PathMsg:
		u := r.authorizedUnit(c.FromSlot, m.TargetUnitID)
		if u == nil {
			return nil
		}
		waypoints, ok := r.validatePath(m)
		if !ok {
			return nil
		}
		u.applyPath(waypoints, m.Closed)
	case protocol.SeatRequestMsg:
		r.applySeatRequest(c.FromSlot, m, nowTick)
	case protocol.SeatReleaseMsg:
		r.applySeatRelease(c.FromSlot, m)
	case protocol.ResyncRequestMsg:
		r.applyResync(c.FromSlot, m, nowTick)
	default:
		return nil
	}

	raw, err := json.Marshal(c.Msg)
	if err != nil {
		return nil
	}
	return &RecordedCommand{Seq: c.Seq, FromSlot: c.FromSlot, Kind: kindOf(c.Msg), Payload: raw}
}

func kindOf(msg any) string {
	switch msg.(type) {
	case protocol.SpawnMsg:
		return protocol.TypeSpawn
	case protocol.MoveMsg:
		return protocol.TypeMove
	case protocol.PathMsg:
		return protocol.TypePath
	case protocol.SeatRequestMsg:
		return protocol.TypeSeatRequest
	case protocol.SeatReleaseMsg:
		return protocol.TypeSeatRelease
	case protocol.ResyncRequestMsg:
		return protocol.TypeResyncRequest
	}
	return ""
}

// authorizedUnit resolves a movement/path target and checks authority: an
// explicit target requires the sender to hold the operator seat; the legacy
// no-target form addresses the sender's own unit by ownership.
func (r *Room) authorizedUnit(fromSlot int, targetID int64) *Unit {
	if targetID == 0 {
		return r.unitOwnedBy(fromSlot)
	}
	u := r.units[targetID]
	if u == nil || u.OperatorSlot != fromSlot {
		return nil
	}
	return u
}

// applySpawn handles the authority-only manifest. Broken entries are
// skipped; a manifest with no usable entries is rejected whole and the room
// stays WAITING.
func (r *Room) applySpawn(fromSlot int, m protocol.SpawnMsg) bool {
	if fromSlot != HostSlot || r.state != StateWaiting {
		return false
	}
	if len(m.Units) > r.cfg.MaxManifestUnits {
		r.log.Printf("room %s: manifest of %d units exceeds cap %d", r.cfg.ID, len(m.Units), r.cfg.MaxManifestUnits)
		return false
	}

	valid := make([]protocol.UnitSpawn, 0, len(m.Units))
	for _, entry := range m.Units {
		if entry.Invalid || entry.ID <= 0 {
			continue
		}
		if entry.OwnerSlot < 0 || entry.OwnerSlot >= r.cfg.MaxPlayers {
			continue
		}
		if _, dup := r.units[entry.ID]; dup {
			continue
		}
		taken := false
		for _, v := range valid {
			if v.ID == entry.ID {
				taken = true
				break
			}
		}
		if taken {
			continue
		}
		valid = append(valid, entry)
	}
	if len(valid) == 0 {
		return false
	}

	for _, entry := range valid {
		r.spawnUnit(entry)
	}
	r.state = StateRunning
	r.log.Printf("room %s: running with %d units", r.cfg.ID, len(valid))
	return true
}

func (r *Room) spawnUnit(entry protocol.UnitSpawn) {
	pos := geom.Vec3{X: entry.Position[0], Y: entry.Position[1], Z: entry.Position[2]}
	dir := pos.Normalized()
	surface := r.sampler.RadiusAt(dir)

	u := &Unit{
		ID:           entry.ID,
		OwnerSlot:    entry.OwnerSlot,
		OperatorSlot: NoSlot,
		ModelIndex:   entry.ModelIndex,
		HP:           unitMaxHP,
		Orientation:  geom.QuatIdentity(),
		Mode:         protocol.ModeGrounded,
		Pin:          entry.Pin,
	}
	if entry.Altitude > 0 {
		u.Mode = protocol.ModeAirborne
		u.Altitude = entry.Altitude
		u.Pos = dir.Scale(surface + entry.Altitude)
	} else {
		u.Pos = dir.Scale(surface)
	}
	u.refreshOrientation(r.sampler.NormalAt(u.Pos))

	r.units[u.ID] = u
	if next := entry.ID + 1; next > r.nextUnitID.Load() {
		r.nextUnitID.Store(next)
	}
}

const unitMaxHP = 100

// validatePath applies the path shape rules: waypoint cap, finite
// coordinates, and a maximum length for every segment including the closing
// one on closed paths. Any violation discards the entire path.
func (r *Room) validatePath(m protocol.PathMsg) ([]geom.Vec3, bool) {
	if len(m.Waypoints) == 0 || len(m.Waypoints) > r.cfg.MaxWaypoints {
		return nil, false
	}
	waypoints := make([]geom.Vec3, len(m.Waypoints))
	for i, wp := range m.Waypoints {
		v := geom.Vec3{X: wp.X, Y: wp.Y, Z: wp.Z}
		if !v.IsFinite() {
			return nil, false
		}
		waypoints[i] = v
	}
	for i := 1; i < len(waypoints); i++ {
		if waypoints[i].DistanceTo(waypoints[i-1]) > r.cfg.MaxSegmentLength {
			return nil, false
		}
	}
	if m.Closed && len(waypoints) > 1 {
		if waypoints[0].DistanceTo(waypoints[len(waypoints)-1]) > r.cfg.MaxSegmentLength {
			return nil, false
		}
	}
	return waypoints, true
}

// applyResync compares the peer's digest against the authority's digest of
// the same tick. Reports for ticks outside the retained history are not
// judged; the requester still gets a baseline to catch up from.
func (r *Room) applyResync(fromSlot int, m protocol.ResyncRequestMsg, nowTick uint64) {
	p := r.slots[fromSlot]
	if p == nil {
		return
	}
	if authority, ok := r.digestAt(m.Tick); ok && m.Digest != authority && r.desyncs != nil {
		r.desyncs.RecordDesync(r.cfg.ID, m.Tick, fromSlot, m.Digest, authority)
	}
	ack := protocol.ResyncAckMsg{
		Type:     protocol.TypeResyncAck,
		Tick:     nowTick,
		Digest:   r.digest(nowTick),
		Baseline: r.buildSnapshot(nowTick),
	}
	r.sendTo(p, ack)
}

func (r *Room) digestAt(tick uint64) (string, bool) {
	e := r.recentDigests[tick%digestHistory]
	if e.tick != tick || e.digest == "" {
		return "", false
	}
	return e.digest, true
}

func (r *Room) sendTo(p *Player, v any) {
	if p == nil || p.Out == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	sendLatest(p.Out, b)
}

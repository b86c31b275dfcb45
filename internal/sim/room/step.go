package room

import (
	"encoding/json"

	"spheroid.gg/internal/protocol"
)

// TickLogEntry records everything that influenced one tick, enough to replay
// it: the drained commands in application order and the resulting digest.
type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	Joins    []int             `json:"joins,omitempty"`
	Leaves   []int             `json:"leaves,omitempty"`
	Commands []RecordedCommand `json:"commands,omitempty"`
	Digest   string            `json:"digest"`
}

type RecordedCommand struct {
	Seq      uint64          `json:"seq"`
	FromSlot int             `json:"from_slot"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

func (r *Room) stepInternal(joins []JoinRequest, leaves []int) {
	if r.state == StateEnded {
		return
	}
	nowTick := r.tick.Load()

	// Boundary events first, deterministically ordered.
	recordedLeaves := make([]int, 0, len(leaves))
	for _, slot := range leaves {
		if _, ok := r.slots[slot]; !ok {
			continue
		}
		r.handleLeave(slot)
		recordedLeaves = append(recordedLeaves, slot)
		if slot == HostSlot {
			// Host departed without migration: the room is done.
			r.state = StateEnded
			r.log.Printf("room %s: host left, ending at tick %d", r.cfg.ID, nowTick)
		}
	}
	recordedJoins := make([]int, 0, len(joins))
	for _, req := range joins {
		slot := r.handleJoin(req, nowTick)
		if slot >= 0 {
			recordedJoins = append(recordedJoins, slot)
		}
	}
	if r.state == StateEnded {
		return
	}

	// Drain and apply commands in sequence order.
	var recorded []RecordedCommand
	for _, c := range r.queue.drain() {
		if rec := r.apply(c, nowTick); rec != nil {
			recorded = append(recorded, *rec)
		}
	}

	// Advance physics, unit id order.
	if r.state == StateRunning {
		dt := float64(r.cfg.TickMs) / 1000.0
		for _, id := range r.sortedUnitIDs() {
			r.units[id].step(dt, r.sampler, &r.cfg)
		}
	}

	// Snapshot + broadcast. The broadcast is a side effect; a room with no
	// sink still ticks correctly.
	snap := r.buildSnapshot(nowTick)
	if r.sink != nil && r.state == StateRunning {
		r.sink.BroadcastSnapshot(r.cfg.ID, snap)
	}
	if r.sink != nil && nowTick%r.cfg.AnnounceEveryTicks == 0 {
		r.sink.Announce(protocol.AnnounceMsg{
			Type:            protocol.TypeAnnounce,
			ProtocolVersion: protocol.Version,
			RoomID:          r.cfg.ID,
			State:           r.state,
			Tick:            nowTick,
			Players:         len(r.slots),
		})
	}

	digest := r.digest(nowTick)
	r.recentDigests[nowTick%digestHistory] = tickDigest{tick: nowTick, digest: digest}
	if r.tickLogger != nil {
		_ = r.tickLogger.WriteTick(TickLogEntry{
			Tick:     nowTick,
			Joins:    recordedJoins,
			Leaves:   recordedLeaves,
			Commands: recorded,
			Digest:   digest,
		})
	}
	if r.archiveSink != nil && nowTick != 0 && nowTick%r.cfg.SnapshotEveryTicks == 0 {
		r.archiveSink.Archive(r.cfg.ID, nowTick, digest, r.exportState(nowTick))
	}

	r.tick.Add(1)
}

// handleJoin assigns the smallest free slot; the first join takes the host
// slot. Returns the slot, or -1 when the room is full.
func (r *Room) handleJoin(req JoinRequest, nowTick uint64) int {
	slot := -1
	for s := 0; s < r.cfg.MaxPlayers; s++ {
		if _, taken := r.slots[s]; !taken {
			slot = s
			break
		}
	}
	if slot < 0 {
		if req.Resp != nil {
			req.Resp <- JoinResponse{Slot: -1}
		}
		return -1
	}

	r.slots[slot] = &Player{Slot: slot, Name: req.Name, Out: req.Out}
	resp := JoinResponse{
		Slot: slot,
		Ack: protocol.JoinAckMsg{
			Type:            protocol.TypeJoinAck,
			ProtocolVersion: protocol.Version,
			RoomID:          r.cfg.ID,
			Slot:            slot,
			TickMs:          r.cfg.TickMs,
			Seed:            r.cfg.Seed,
			BaseRadius:      r.cfg.BaseRadius,
			Baseline:        r.buildSnapshot(nowTick),
		},
	}
	if req.Resp != nil {
		req.Resp <- resp
	}
	return slot
}

func (r *Room) handleLeave(slot int) {
	delete(r.slots, slot)
	r.dropSeatsOf(slot)
}

// ReplayTick re-applies one recorded tick. Payloads are decoded by kind and
// pushed with their original sequence numbers so ordering is identical to
// the recorded run.
func (r *Room) ReplayTick(e TickLogEntry) (digest string, err error) {
	for _, rec := range e.Commands {
		msg, derr := decodeRecorded(rec)
		if derr != nil {
			return "", derr
		}
		r.queue.push(Command{Seq: rec.Seq, Tick: e.Tick, FromSlot: rec.FromSlot, Msg: msg})
	}
	var joins []JoinRequest
	for range e.Joins {
		joins = append(joins, JoinRequest{})
	}
	_, digest = r.StepOnce(joins, e.Leaves)
	return digest, nil
}

func decodeRecorded(rec RecordedCommand) (any, error) {
	switch rec.Kind {
	case protocol.TypeSpawn:
		var m protocol.SpawnMsg
		err := json.Unmarshal(rec.Payload, &m)
		return m, err
	case protocol.TypeMove:
		var m protocol.MoveMsg
		err := json.Unmarshal(rec.Payload, &m)
		return m, err
	case protocol.TypePath:
		var m protocol.PathMsg
		err := json.Unmarshal(rec.Payload, &m)
		return m, err
	case protocol.TypeSeatRequest:
		var m protocol.SeatRequestMsg
		err := json.Unmarshal(rec.Payload, &m)
		return m, err
	case protocol.TypeSeatRelease:
		var m protocol.SeatReleaseMsg
		err := json.Unmarshal(rec.Payload, &m)
		return m, err
	case protocol.TypeResyncRequest:
		var m protocol.ResyncRequestMsg
		err := json.Unmarshal(rec.Payload, &m)
		return m, err
	}
	return nil, errUnknownRecordedKind(rec.Kind)
}

type errUnknownRecordedKind string

func (e errUnknownRecordedKind) Error() string {
	return "unknown recorded command kind " + string(e)
}

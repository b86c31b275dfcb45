package room

import (
	"spheroid.gg/internal/protocol"
)

// Seat transfer has two distinct grant paths:
//
//   - Owner re-entry: the persistent owner reclaims a free seat without
//     presenting the PIN, even when the unit is locked.
//   - Takeover: any other slot needs the seat free and, on a locked unit,
//     the correct PIN.
//
// Both paths share the cooldown ledger; repeated failures against the same
// unit escalate the backoff per (requester, unit) pair.

type seatKey struct {
	slot int
	unit int64
}

type seatBackoff struct {
	untilTick uint64
	failures  uint64
}

const seatAuthPin = "pin"

func (r *Room) applySeatRequest(fromSlot int, m protocol.SeatRequestMsg, nowTick uint64) {
	// The requester_slot field must match the actual sender; a mismatch is
	// a spoof attempt and is dropped without feedback.
	if m.RequesterSlot != fromSlot {
		return
	}
	p := r.slots[fromSlot]
	u := r.units[m.TargetUnitID]
	if p == nil || u == nil {
		return
	}

	key := seatKey{slot: fromSlot, unit: u.ID}
	if bo := r.seatCooldowns[key]; bo != nil && nowTick < bo.untilTick {
		r.sendTo(p, protocol.SeatRejectMsg{
			Type:          protocol.TypeSeatReject,
			TargetUnitID:  u.ID,
			Reason:        protocol.SeatCooldown,
			CooldownTicks: bo.untilTick - nowTick,
		})
		return
	}

	if reason := r.seatDecision(fromSlot, u, m.Auth); reason != "" {
		cooldown := r.escalate(key, nowTick)
		r.sendTo(p, protocol.SeatRejectMsg{
			Type:          protocol.TypeSeatReject,
			TargetUnitID:  u.ID,
			Reason:        reason,
			CooldownTicks: cooldown,
		})
		return
	}

	u.OperatorSlot = fromSlot
	delete(r.seatCooldowns, key)
	r.sendTo(p, protocol.SeatAckMsg{
		Type:         protocol.TypeSeatAck,
		TargetUnitID: u.ID,
		OperatorSlot: fromSlot,
		Tick:         nowTick,
	})
}

// seatDecision returns the typed rejection reason, or "" to grant.
func (r *Room) seatDecision(fromSlot int, u *Unit, auth *protocol.SeatAuth) string {
	if u.OperatorSlot == fromSlot {
		return "" // already seated; treat as a no-op grant
	}
	if u.OperatorSlot != NoSlot {
		return protocol.SeatOccupied
	}
	if fromSlot == u.OwnerSlot {
		// Owner re-entry bypasses the PIN.
		return ""
	}
	if u.Pin != "" {
		if auth == nil || auth.Method != seatAuthPin || auth.Guess == "" {
			return protocol.SeatLocked
		}
		if auth.Guess != u.Pin {
			return protocol.SeatBadPin
		}
	}
	return ""
}

// escalate records a failure and returns the new cooldown length in ticks.
func (r *Room) escalate(key seatKey, nowTick uint64) uint64 {
	bo := r.seatCooldowns[key]
	if bo == nil {
		bo = &seatBackoff{}
		r.seatCooldowns[key] = bo
	}
	shift := bo.failures
	if shift > r.cfg.SeatCooldownMaxShift {
		shift = r.cfg.SeatCooldownMaxShift
	}
	cooldown := r.cfg.SeatCooldownBaseTicks << shift
	bo.failures++
	bo.untilTick = nowTick + cooldown
	return cooldown
}

func (r *Room) applySeatRelease(fromSlot int, m protocol.SeatReleaseMsg) {
	u := r.units[m.TargetUnitID]
	if u == nil || u.OperatorSlot != fromSlot {
		return
	}
	u.OperatorSlot = NoSlot
}

// dropSeatsOf releases every seat held by a departing slot and clears its
// cooldown entries.
func (r *Room) dropSeatsOf(slot int) {
	for _, id := range r.sortedUnitIDs() {
		if r.units[id].OperatorSlot == slot {
			r.units[id].OperatorSlot = NoSlot
		}
	}
	for key := range r.seatCooldowns {
		if key.slot == slot {
			delete(r.seatCooldowns, key)
		}
	}
}

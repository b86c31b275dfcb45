package room

import (
	"sort"

	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/sim/geom"
)

// buildSnapshot serializes the authoritative state at one tick. Units are
// ordered by id so two rooms fed identical command streams produce
// field-for-field identical snapshots. Server time is derived from the tick
// counter, not the wall clock, for the same reason.
func (r *Room) buildSnapshot(nowTick uint64) protocol.SnapshotMsg {
	units := make([]protocol.UnitState, 0, len(r.units))
	for _, id := range r.sortedUnitIDs() {
		units = append(units, r.units[id].state())
	}
	return protocol.SnapshotMsg{
		Type:         protocol.TypeSnapshot,
		Tick:         nowTick,
		ServerTimeMs: float64(nowTick) * float64(r.cfg.TickMs),
		Units:        units,
	}
}

// StateExport is the complete runtime state of a room at a tick boundary,
// including everything the wire snapshot hides: velocities, manual intents,
// paths, seat PINs, slot occupancy, and the cooldown ledger. Archives store
// it so a resumed room continues exactly where the original left off and
// reproduces the recorded tick digests.
type StateExport struct {
	Tick       uint64
	State      string
	NextUnitID int64
	Slots      []SlotState
	Units      []UnitRuntime
	Cooldowns  []SeatCooldown
}

type SlotState struct {
	Slot int
	Name string
}

type UnitRuntime struct {
	ID           int64
	OwnerSlot    int
	OperatorSlot int
	ModelIndex   int
	HP           int
	Pin          string

	Position    [3]float64
	Orientation [4]float64
	Velocity    [3]float64
	Heading     float64
	Mode        string
	Altitude    float64
	VerticalVel float64

	Forward  bool
	Backward bool
	Left     bool
	Right    bool

	Path *PathState
}

type PathState struct {
	Waypoints [][3]float64
	Index     int
	Closed    bool
}

type SeatCooldown struct {
	Slot      int
	UnitID    int64
	UntilTick uint64
	Failures  uint64
}

// exportState captures the post-step state at nowTick. Loop goroutine only.
func (r *Room) exportState(nowTick uint64) StateExport {
	st := StateExport{
		Tick:       nowTick,
		State:      r.state,
		NextUnitID: r.nextUnitID.Load(),
	}

	for _, s := range r.sortedSlots() {
		st.Slots = append(st.Slots, SlotState{Slot: s, Name: r.slots[s].Name})
	}

	for _, id := range r.sortedUnitIDs() {
		u := r.units[id]
		ur := UnitRuntime{
			ID:           u.ID,
			OwnerSlot:    u.OwnerSlot,
			OperatorSlot: u.OperatorSlot,
			ModelIndex:   u.ModelIndex,
			HP:           u.HP,
			Pin:          u.Pin,
			Position:     [3]float64{u.Pos.X, u.Pos.Y, u.Pos.Z},
			Orientation:  [4]float64{u.Orientation.X, u.Orientation.Y, u.Orientation.Z, u.Orientation.W},
			Velocity:     [3]float64{u.Vel.X, u.Vel.Y, u.Vel.Z},
			Heading:      u.Heading,
			Mode:         u.Mode,
			Altitude:     u.Altitude,
			VerticalVel:  u.VerticalVel,
			Forward:      u.intent.forward,
			Backward:     u.intent.backward,
			Left:         u.intent.left,
			Right:        u.intent.right,
		}
		if u.path != nil {
			ps := &PathState{Index: u.path.Index, Closed: u.path.Closed}
			for _, wp := range u.path.Waypoints {
				ps.Waypoints = append(ps.Waypoints, [3]float64{wp.X, wp.Y, wp.Z})
			}
			ur.Path = ps
		}
		st.Units = append(st.Units, ur)
	}

	keys := make([]seatKey, 0, len(r.seatCooldowns))
	for k := range r.seatCooldowns {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].slot != keys[j].slot {
			return keys[i].slot < keys[j].slot
		}
		return keys[i].unit < keys[j].unit
	})
	for _, k := range keys {
		bo := r.seatCooldowns[k]
		st.Cooldowns = append(st.Cooldowns, SeatCooldown{
			Slot:      k.slot,
			UnitID:    k.unit,
			UntilTick: bo.untilTick,
			Failures:  bo.failures,
		})
	}

	return st
}

// RestoreState loads an exported state into an idle room. Restored slots
// carry no transport channel; live connections rejoin and reclaim them. The
// export holds post-step state for its tick, so the room resumes at the
// next one. Float fields are copied bit for bit, never renormalized.
func (r *Room) RestoreState(st StateExport) {
	r.state = st.State

	r.slots = make(map[int]*Player, len(st.Slots))
	for _, s := range st.Slots {
		r.slots[s.Slot] = &Player{Slot: s.Slot, Name: s.Name}
	}

	r.units = make(map[int64]*Unit, len(st.Units))
	for _, ur := range st.Units {
		u := &Unit{
			ID:           ur.ID,
			OwnerSlot:    ur.OwnerSlot,
			OperatorSlot: ur.OperatorSlot,
			ModelIndex:   ur.ModelIndex,
			HP:           ur.HP,
			Pin:          ur.Pin,
			Pos:          vec3(ur.Position),
			Orientation:  geom.Quat{X: ur.Orientation[0], Y: ur.Orientation[1], Z: ur.Orientation[2], W: ur.Orientation[3]},
			Vel:          vec3(ur.Velocity),
			Heading:      ur.Heading,
			Mode:         ur.Mode,
			Altitude:     ur.Altitude,
			VerticalVel:  ur.VerticalVel,
			intent: moveIntent{
				forward:  ur.Forward,
				backward: ur.Backward,
				left:     ur.Left,
				right:    ur.Right,
			},
		}
		if ur.Path != nil {
			p := &unitPath{Index: ur.Path.Index, Closed: ur.Path.Closed}
			for _, wp := range ur.Path.Waypoints {
				p.Waypoints = append(p.Waypoints, vec3(wp))
			}
			u.path = p
		}
		r.units[u.ID] = u
	}

	r.seatCooldowns = make(map[seatKey]*seatBackoff, len(st.Cooldowns))
	for _, c := range st.Cooldowns {
		r.seatCooldowns[seatKey{slot: c.Slot, unit: c.UnitID}] = &seatBackoff{
			untilTick: c.UntilTick,
			failures:  c.Failures,
		}
	}

	r.nextUnitID.Store(st.NextUnitID)
	r.tick.Store(st.Tick + 1)
}

package protocol

import "encoding/json"

// ANNOUNCE (room -> lobby channel): periodic presence advertisement.
type AnnounceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id"`
	State           string `json:"state"`
	Tick            uint64 `json:"tick"`
	Players         int    `json:"players"`
}

// JOIN (client -> server): handshake requesting a slot in a room.
type JoinMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id"`
	Name            string `json:"name,omitempty"`
}

// JOIN_ACK (server -> client): assigned slot plus a baseline snapshot.
type JoinAckMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	RoomID          string      `json:"room_id"`
	Slot            int         `json:"slot"`
	TickMs          int         `json:"tick_ms"`
	Seed            int64       `json:"seed"`
	BaseRadius      float64     `json:"base_radius"`
	Baseline        SnapshotMsg `json:"baseline"`
}

// SPAWN (host -> room): authority-only bulk unit creation manifest.
type SpawnMsg struct {
	Type  string      `json:"type"`
	Units []UnitSpawn `json:"units"`
}

// UnitSpawn is one manifest entry. Decoding never fails the whole manifest:
// a structurally broken entry is marked invalid and skipped by the gate.
type UnitSpawn struct {
	ID         int64      `json:"id"`
	OwnerSlot  int        `json:"owner_slot"`
	ModelIndex int        `json:"model_index"`
	Position   [3]float64 `json:"position"`
	Altitude   float64    `json:"altitude,omitempty"`
	Pin        string     `json:"pin,omitempty"`

	Invalid bool `json:"-"`
}

func (u *UnitSpawn) UnmarshalJSON(b []byte) error {
	type plain UnitSpawn
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		u.Invalid = true
		return nil
	}
	*u = UnitSpawn(p)
	return nil
}

// MOVE (client -> room): movement intent on up to four boolean axes. A
// message with all axes false is an idle heartbeat and must not cancel an
// active path.
type MoveMsg struct {
	Type         string `json:"type"`
	Forward      bool   `json:"forward"`
	Backward     bool   `json:"backward"`
	Left         bool   `json:"left"`
	Right        bool   `json:"right"`
	TargetUnitID int64  `json:"target_unit_id,omitempty"`
}

func (m MoveMsg) Idle() bool {
	return !m.Forward && !m.Backward && !m.Left && !m.Right
}

// PATH (client -> room): waypoint list for a unit.
type PathMsg struct {
	Type         string     `json:"type"`
	TargetUnitID int64      `json:"target_unit_id"`
	Waypoints    []Waypoint `json:"waypoints"`
	Closed       bool       `json:"closed,omitempty"`
}

type Waypoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// SEAT_REQUEST (client -> room): ask for exclusive control of a unit.
type SeatRequestMsg struct {
	Type          string    `json:"type"`
	TargetUnitID  int64     `json:"target_unit_id"`
	RequesterSlot int       `json:"requester_slot"`
	Auth          *SeatAuth `json:"auth,omitempty"`
}

type SeatAuth struct {
	Method string `json:"method"`
	Guess  string `json:"guess,omitempty"`
}

// Older clients sent the requester under "pilot_slot". The alias is accepted
// here and never re-introduced into internal state.
func (m *SeatRequestMsg) UnmarshalJSON(b []byte) error {
	type plain SeatRequestMsg
	var p struct {
		plain
		PilotSlot *int `json:"pilot_slot"`
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = SeatRequestMsg(p.plain)
	if p.PilotSlot != nil && m.RequesterSlot == 0 {
		m.RequesterSlot = *p.PilotSlot
	}
	return nil
}

// SEAT_ACK (room -> requester, then broadcast): control granted.
type SeatAckMsg struct {
	Type         string `json:"type"`
	TargetUnitID int64  `json:"target_unit_id"`
	OperatorSlot int    `json:"operator_slot"`
	Tick         uint64 `json:"tick"`
}

// SEAT_REJECT (room -> requester only): control denied with a typed reason.
type SeatRejectMsg struct {
	Type          string `json:"type"`
	TargetUnitID  int64  `json:"target_unit_id"`
	Reason        string `json:"reason"`
	CooldownTicks uint64 `json:"cooldown_ticks,omitempty"`
}

// SEAT_RELEASE (client -> room): give up control of a unit.
type SeatReleaseMsg struct {
	Type         string `json:"type"`
	TargetUnitID int64  `json:"target_unit_id"`
}

// SNAPSHOT (room -> all peers): authoritative state at one tick. Never
// carries secrets such as seat PINs.
type SnapshotMsg struct {
	Type         string      `json:"type"`
	Tick         uint64      `json:"tick"`
	ServerTimeMs float64     `json:"server_time_ms"`
	Units        []UnitState `json:"units"`
}

type UnitState struct {
	ID           int64      `json:"id"`
	OwnerSlot    int        `json:"owner_slot"`
	OperatorSlot int        `json:"operator_slot"`
	Position     [3]float64 `json:"position"`
	Quaternion   [4]float64 `json:"quaternion"`
	Heading      float64    `json:"heading"`
	Speed        float64    `json:"speed"`
	HP           int        `json:"hp"`
	Mode         string     `json:"mode"`
	Altitude     float64    `json:"altitude"`
	ModelIndex   int        `json:"model_index"`
}

// Unit modes.
const (
	ModeGrounded = "GROUNDED"
	ModeAirborne = "AIRBORNE"
)

// RESYNC_REQUEST (client -> room): the peer's state hash diverged.
type ResyncRequestMsg struct {
	Type   string `json:"type"`
	Tick   uint64 `json:"tick"`
	Digest string `json:"digest"`
}

// RESYNC_ACK (room -> requester only): full-state catch-up.
type ResyncAckMsg struct {
	Type     string      `json:"type"`
	Tick     uint64      `json:"tick"`
	Digest   string      `json:"digest"`
	Baseline SnapshotMsg `json:"baseline"`
}

// LEAVE (client -> server): intentional departure; must not auto-reconnect.
type LeaveMsg struct {
	Type string `json:"type"`
	Slot int    `json:"slot,omitempty"`
}

package protocol

import (
	"encoding/json"
	"fmt"
)

// Decode parses and validates one inbound wire message. It is the single
// entry point at the boundary: every message kind is matched explicitly and
// unknown tags are rejected, so nothing unvalidated reaches a room.
func Decode(b []byte) (any, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ErrProtoBadRequest, err)
	}
	switch base.Type {
	case TypeJoin:
		var m JoinMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, badRequest(err)
		}
		if m.RoomID == "" {
			return nil, missing(TypeJoin, "room_id")
		}
		if m.ProtocolVersion != Version {
			return nil, fmt.Errorf("%s: got %q, want %q", ErrVersionMismatch, m.ProtocolVersion, Version)
		}
		return m, nil
	case TypeSpawn:
		var m SpawnMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, badRequest(err)
		}
		if m.Units == nil {
			return nil, missing(TypeSpawn, "units")
		}
		return m, nil
	case TypeMove:
		var m MoveMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, badRequest(err)
		}
		return m, nil
	case TypePath:
		var m PathMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, badRequest(err)
		}
		if m.TargetUnitID == 0 {
			return nil, missing(TypePath, "target_unit_id")
		}
		if len(m.Waypoints) == 0 {
			return nil, missing(TypePath, "waypoints")
		}
		return m, nil
	case TypeSeatRequest:
		var m SeatRequestMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, badRequest(err)
		}
		if m.TargetUnitID == 0 {
			return nil, missing(TypeSeatRequest, "target_unit_id")
		}
		return m, nil
	case TypeSeatRelease:
		var m SeatReleaseMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, badRequest(err)
		}
		if m.TargetUnitID == 0 {
			return nil, missing(TypeSeatRelease, "target_unit_id")
		}
		return m, nil
	case TypeResyncRequest:
		var m ResyncRequestMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, badRequest(err)
		}
		if m.Digest == "" {
			return nil, missing(TypeResyncRequest, "digest")
		}
		return m, nil
	case TypeLeave:
		var m LeaveMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, badRequest(err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%s: unknown type %q", ErrProtoBadRequest, base.Type)
	}
}

func badRequest(err error) error {
	return fmt.Errorf("%s: %w", ErrProtoBadRequest, err)
}

func missing(kind, field string) error {
	return fmt.Errorf("%s: %s missing %s", ErrProtoBadRequest, kind, field)
}

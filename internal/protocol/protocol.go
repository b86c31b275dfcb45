package protocol

import "encoding/json"

// Version is carried on handshake messages; a mismatch is a hard rejection
// at join time.
const Version = "1.0"

// Message types.
const (
	TypeAnnounce      = "ANNOUNCE"
	TypeJoin          = "JOIN"
	TypeJoinAck       = "JOIN_ACK"
	TypeSpawn         = "SPAWN"
	TypeMove          = "MOVE"
	TypePath          = "PATH"
	TypeSeatRequest   = "SEAT_REQUEST"
	TypeSeatAck       = "SEAT_ACK"
	TypeSeatReject    = "SEAT_REJECT"
	TypeSeatRelease   = "SEAT_RELEASE"
	TypeSnapshot      = "SNAPSHOT"
	TypeResyncRequest = "RESYNC_REQUEST"
	TypeResyncAck     = "RESYNC_ACK"
	TypeLeave         = "LEAVE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

package protocol

// Seat rejection reasons. These travel back to the requester on SEAT_REJECT.
const (
	SeatOccupied = "OCCUPIED"
	SeatLocked   = "LOCKED"
	SeatBadPin   = "BAD_PIN"
	SeatCooldown = "COOLDOWN"
)

// Boundary/relay error codes.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrVersionMismatch = "E_VERSION_MISMATCH"
	ErrRoomNotFound    = "E_ROOM_NOT_FOUND"
	ErrRoomFull        = "E_ROOM_FULL"
	ErrPayloadTooLarge = "E_PAYLOAD_TOO_LARGE"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrVersionMismatch: {},
	ErrRoomNotFound:    {},
	ErrRoomFull:        {},
	ErrPayloadTooLarge: {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

// IsKnownCode reports whether code is one of the defined boundary codes.
// The empty string is not a code.
func IsKnownCode(code string) bool {
	_, ok := knownCodes[code]
	return ok
}

var knownSeatReasons = map[string]struct{}{
	SeatOccupied: {},
	SeatLocked:   {},
	SeatBadPin:   {},
	SeatCooldown: {},
}

func IsKnownSeatReason(reason string) bool {
	_, ok := knownSeatReasons[reason]
	return ok
}

// ErrorMsg is sent back to a sender whose message was rejected at the
// boundary (oversized broadcast, version mismatch, malformed payload).
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

const TypeError = "ERROR"

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code, Message: message}
}

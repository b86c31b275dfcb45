package main

import (
	"encoding/json"

	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/relay"
	"spheroid.gg/internal/transport/ws"
)

// busBroadcaster hands room output to the relay: snapshots on the room's
// channel, presence announcements on the lobby.
type busBroadcaster struct {
	bus *relay.Relay
}

func (b busBroadcaster) BroadcastSnapshot(roomID string, snap protocol.SnapshotMsg) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	b.bus.Publish(ws.RoomChannel(roomID), raw)
}

func (b busBroadcaster) Announce(a protocol.AnnounceMsg) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	b.bus.Publish(ws.LobbyChannel, raw)
}

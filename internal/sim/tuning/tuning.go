// Package tuning loads the gameplay constants shared by every room from
// tuning.yaml. Values the file omits fall back to Defaults.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickMs     int     `yaml:"tick_ms"`
	BaseRadius float64 `yaml:"base_radius"`
	MaxPlayers int     `yaml:"max_players"`

	MoveSpeed     float64 `yaml:"move_speed"`
	ArriveEpsilon float64 `yaml:"arrive_epsilon"`
	Gravity       float64 `yaml:"gravity"`

	MaxManifestUnits int     `yaml:"max_manifest_units"`
	MaxWaypoints     int     `yaml:"max_waypoints"`
	MaxSegmentLength float64 `yaml:"max_segment_length"`

	SeatCooldownBaseTicks uint64 `yaml:"seat_cooldown_base_ticks"`
	SeatCooldownMaxShift  uint64 `yaml:"seat_cooldown_max_shift"`

	AnnounceEveryTicks uint64 `yaml:"announce_every_ticks"`
	SnapshotEveryTicks uint64 `yaml:"snapshot_every_ticks"`

	RateLimits RateLimits `yaml:"rate_limits"`
	Interp     Interp     `yaml:"interp"`
}

// RateLimits govern the relay: per-sender sliding windows and the payload
// cap. Windows are wall-clock milliseconds because the relay sits outside
// the tick loop.
type RateLimits struct {
	PublishWindowMs int `yaml:"publish_window_ms"`
	PublishMax      int `yaml:"publish_max"`
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
}

// Interp feeds the client-side snapshot buffer.
type Interp struct {
	BufferCapacity    int     `yaml:"buffer_capacity"`
	DelayMs           float64 `yaml:"delay_ms"`
	MaxExtrapolateMs  float64 `yaml:"max_extrapolate_ms"`
	ClockOffsetAlpha  float64 `yaml:"clock_offset_alpha"`
	TeleportThreshold float64 `yaml:"teleport_threshold"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:       "1.0",
		TickMs:                50,
		BaseRadius:            150,
		MaxPlayers:            16,
		MoveSpeed:             12,
		ArriveEpsilon:         0.5,
		Gravity:               9.8,
		MaxManifestUnits:      64,
		MaxWaypoints:          32,
		MaxSegmentLength:      200,
		SeatCooldownBaseTicks: 20,
		SeatCooldownMaxShift:  5,
		AnnounceEveryTicks:    40,
		SnapshotEveryTicks:    1200,
		RateLimits: RateLimits{
			PublishWindowMs: 1000,
			PublishMax:      60,
			MaxPayloadBytes: 64 * 1024,
		},
		Interp: Interp{
			BufferCapacity:    64,
			DelayMs:           100,
			MaxExtrapolateMs:  250,
			ClockOffsetAlpha:  0.1,
			TeleportThreshold: 25,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Package netsync reconstructs a smooth render timeline on the consumer side
// from the discrete snapshot stream a room broadcasts.
package netsync

import (
	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/sim/geom"
)

type Config struct {
	// Capacity bounds the ring; the oldest snapshot is evicted when full.
	Capacity int
	// DelayMs keeps render time behind the newest sample so a bracketing
	// pair is normally available despite jitter.
	DelayMs float64
	// MaxExtrapolateMs bounds how far past the newest sample render time may
	// run before the buffer holds.
	MaxExtrapolateMs float64
	// OffsetAlpha is the EMA factor for the local-to-server clock offset.
	// The first sample snaps the offset instantly.
	OffsetAlpha float64
	// TeleportThreshold is the per-unit position delta above which a unit
	// snaps instead of interpolating.
	TeleportThreshold float64
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 64
	}
	if c.DelayMs <= 0 {
		c.DelayMs = 100
	}
	if c.MaxExtrapolateMs <= 0 {
		c.MaxExtrapolateMs = 250
	}
	if c.OffsetAlpha <= 0 || c.OffsetAlpha > 1 {
		c.OffsetAlpha = 0.1
	}
	if c.TeleportThreshold <= 0 {
		c.TeleportThreshold = 25
	}
}

// Buffer is a fixed-capacity ring of snapshots ordered by tick. Not
// goroutine safe; it lives on the consumer's render loop.
type Buffer struct {
	cfg  Config
	ring []protocol.SnapshotMsg
	size int
	head int // index of the oldest element

	highestTick uint64
	haveTick    bool

	offsetMs   float64
	haveOffset bool
}

func NewBuffer(cfg Config) *Buffer {
	cfg.applyDefaults()
	return &Buffer{
		cfg:  cfg,
		ring: make([]protocol.SnapshotMsg, cfg.Capacity),
	}
}

// Push accepts one received snapshot. Snapshots at or behind the highest
// seen tick are rejected, which discards duplicates and out-of-order
// arrivals; a gap in the tick stream is fine.
func (b *Buffer) Push(snap protocol.SnapshotMsg, localNowMs float64) bool {
	if b.haveTick && snap.Tick <= b.highestTick {
		return false
	}
	b.highestTick = snap.Tick
	b.haveTick = true

	sample := localNowMs - snap.ServerTimeMs
	if !b.haveOffset {
		b.offsetMs = sample
		b.haveOffset = true
	} else {
		b.offsetMs += b.cfg.OffsetAlpha * (sample - b.offsetMs)
	}

	if b.size == len(b.ring) {
		b.head = (b.head + 1) % len(b.ring)
		b.size--
	}
	b.ring[(b.head+b.size)%len(b.ring)] = snap
	b.size++
	return true
}

func (b *Buffer) Len() int               { return b.size }
func (b *Buffer) ClockOffsetMs() float64 { return b.offsetMs }
func (b *Buffer) HighestTick() uint64    { return b.highestTick }

func (b *Buffer) at(i int) protocol.SnapshotMsg {
	return b.ring[(b.head+i)%len(b.ring)]
}

// RenderTimeMs converts local time to the server timeline, held back by the
// interpolation delay.
func (b *Buffer) RenderTimeMs(localNowMs float64) float64 {
	return localNowMs - b.offsetMs - b.cfg.DelayMs
}

// Pair is a bracketing snapshot pair. Alpha is the blend factor from A to B
// in [0,1]; Extrapolating marks render times past the newest sample, where
// the pair is the last two snapshots and Alpha exceeds 1 up to the bounded
// horizon. Teleported lists unit ids whose delta between A and B exceeds the
// threshold; those snap to B instead of blending.
type Pair struct {
	A, B          protocol.SnapshotMsg
	Alpha         float64
	Extrapolating bool
	Teleported    map[int64]bool
}

// InterpolationPair finds the two snapshots bracketing render time. It
// returns false until the buffer holds at least one snapshot.
func (b *Buffer) InterpolationPair(localNowMs float64) (Pair, bool) {
	if b.size == 0 {
		return Pair{}, false
	}
	rt := b.RenderTimeMs(localNowMs)

	first := b.at(0)
	last := b.at(b.size - 1)

	if b.size == 1 || rt <= first.ServerTimeMs {
		// Hold at the oldest sample until render time enters the buffer.
		hold := first
		if b.size == 1 {
			hold = last
		}
		return b.pairOf(hold, hold, 0, false), true
	}

	if rt >= last.ServerTimeMs {
		prev := b.at(b.size - 2)
		span := last.ServerTimeMs - prev.ServerTimeMs
		if span <= 0 {
			return b.pairOf(last, last, 0, false), true
		}
		horizon := last.ServerTimeMs + b.cfg.MaxExtrapolateMs
		if rt > horizon {
			rt = horizon
		}
		alpha := (rt - prev.ServerTimeMs) / span
		return b.pairOf(prev, last, alpha, rt > last.ServerTimeMs), true
	}

	for i := 1; i < b.size; i++ {
		a, bb := b.at(i-1), b.at(i)
		if rt > bb.ServerTimeMs {
			continue
		}
		span := bb.ServerTimeMs - a.ServerTimeMs
		alpha := 0.0
		if span > 0 {
			alpha = (rt - a.ServerTimeMs) / span
		}
		return b.pairOf(a, bb, alpha, false), true
	}
	return b.pairOf(last, last, 0, false), true
}

func (b *Buffer) pairOf(a, bb protocol.SnapshotMsg, alpha float64, extrapolating bool) Pair {
	p := Pair{A: a, B: bb, Alpha: alpha, Extrapolating: extrapolating, Teleported: map[int64]bool{}}
	if a.Tick == bb.Tick {
		return p
	}
	prev := make(map[int64][3]float64, len(a.Units))
	for _, u := range a.Units {
		prev[u.ID] = u.Position
	}
	for _, u := range bb.Units {
		pa, ok := prev[u.ID]
		if !ok {
			continue
		}
		if dist(pa, u.Position) > b.cfg.TeleportThreshold {
			p.Teleported[u.ID] = true
		}
	}
	return p
}

// Unit blends one unit's state across the pair: linear position, normalized
// quaternion lerp. Teleport-flagged units and units absent from A snap to
// their B state. Returns false when the unit is not in B.
func (p Pair) Unit(id int64) (protocol.UnitState, bool) {
	ub, ok := findUnit(p.B, id)
	if !ok {
		return protocol.UnitState{}, false
	}
	ua, ok := findUnit(p.A, id)
	if !ok || p.Teleported[id] || p.Alpha >= 1 && !p.Extrapolating {
		return ub, true
	}

	t := p.Alpha
	out := ub
	out.Position = lerp3(ua.Position, ub.Position, t)
	out.Quaternion = nlerp4(ua.Quaternion, ub.Quaternion, t)
	out.Heading = ua.Heading + (ub.Heading-ua.Heading)*t
	out.Speed = ua.Speed + (ub.Speed-ua.Speed)*t
	out.Altitude = ua.Altitude + (ub.Altitude-ua.Altitude)*t
	return out, true
}

func findUnit(s protocol.SnapshotMsg, id int64) (protocol.UnitState, bool) {
	for _, u := range s.Units {
		if u.ID == id {
			return u, true
		}
	}
	return protocol.UnitState{}, false
}

func dist(a, b [3]float64) float64 {
	va := geom.Vec3{X: a[0], Y: a[1], Z: a[2]}
	vb := geom.Vec3{X: b[0], Y: b[1], Z: b[2]}
	return va.DistanceTo(vb)
}

func lerp3(a, b [3]float64, t float64) [3]float64 {
	return [3]float64{
		a[0] + (b[0]-a[0])*t,
		a[1] + (b[1]-a[1])*t,
		a[2] + (b[2]-a[2])*t,
	}
}

// nlerp4 blends quaternions along the shorter arc and renormalizes.
func nlerp4(a, b [4]float64, t float64) [4]float64 {
	dot := a[0]*b[0] + a[1]*b[1] + a[2]*b[2] + a[3]*b[3]
	if dot < 0 {
		for i := range b {
			b[i] = -b[i]
		}
	}
	q := geom.Quat{
		X: a[0] + (b[0]-a[0])*t,
		Y: a[1] + (b[1]-a[1])*t,
		Z: a[2] + (b[2]-a[2])*t,
		W: a[3] + (b[3]-a[3])*t,
	}.Normalized()
	return [4]float64{q.X, q.Y, q.Z, q.W}
}

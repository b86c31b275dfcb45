package room

import (
	"math"

	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/sim/geom"
	"spheroid.gg/internal/sim/terrain"
)

// Unit is one simulated entity. Mutated only by the room loop.
type Unit struct {
	ID           int64
	OwnerSlot    int
	OperatorSlot int
	ModelIndex   int
	HP           int

	Pos         geom.Vec3
	Orientation geom.Quat
	Vel         geom.Vec3
	Heading     float64
	Mode        string
	Altitude    float64
	VerticalVel float64

	// Pin guards the seat. It never leaves the room: snapshots and digests
	// exclude it.
	Pin string

	intent moveIntent
	path   *unitPath
}

type moveIntent struct {
	forward, backward, left, right bool
}

func (i moveIntent) idle() bool {
	return !i.forward && !i.backward && !i.left && !i.right
}

type unitPath struct {
	Waypoints []geom.Vec3
	Index     int
	Closed    bool
}

// applyMove installs a movement intent. A directional intent interrupts any
// active path; an idle intent only halts manual movement and must leave the
// path alone so heartbeats cannot cancel navigation.
func (u *Unit) applyMove(m protocol.MoveMsg) {
	u.intent = moveIntent{
		forward:  m.Forward,
		backward: m.Backward,
		left:     m.Left,
		right:    m.Right,
	}
	if !m.Idle() {
		u.path = nil
	}
}

// applyPath installs an already-validated waypoint list and suspends manual
// intent.
func (u *Unit) applyPath(waypoints []geom.Vec3, closed bool) {
	u.path = &unitPath{Waypoints: waypoints, Closed: closed}
	u.intent = moveIntent{}
}

func (u *Unit) HasPath() bool { return u.path != nil }

// step advances the unit by dt seconds.
func (u *Unit) step(dt float64, sampler *terrain.Sampler, cfg *Config) {
	if u.Mode == protocol.ModeAirborne {
		u.stepAirborne(dt, sampler)
		return
	}
	u.stepGrounded(dt, sampler, cfg)
}

func (u *Unit) stepGrounded(dt float64, sampler *terrain.Sampler, cfg *Config) {
	up := sampler.NormalAt(u.Pos)

	desired := u.desiredVelocity(up, cfg)
	// Grounded velocity is always tangential to the local surface.
	u.Vel = desired.ProjectOnPlane(up)

	u.Pos = u.Pos.Add(u.Vel.Scale(dt))

	// Terrain snap at the new direction.
	dir := u.Pos.Normalized()
	u.Pos = dir.Scale(sampler.RadiusAt(dir))
	u.Altitude = 0
	u.VerticalVel = 0

	u.refreshOrientation(sampler.NormalAt(u.Pos))
}

func (u *Unit) stepAirborne(dt float64, sampler *terrain.Sampler) {
	radial := u.Pos.Normalized()
	u.Pos = u.Pos.Add(u.Vel.Scale(dt)).Add(radial.Scale(u.VerticalVel * dt))
	u.VerticalVel -= airGravity * dt

	dir := u.Pos.Normalized()
	surface := sampler.RadiusAt(dir)
	u.Altitude = u.Pos.Length() - surface
	if u.Altitude <= 0 {
		u.Altitude = 0
		u.VerticalVel = 0
		u.Mode = protocol.ModeGrounded
		u.Pos = dir.Scale(surface)
	}
	u.refreshOrientation(sampler.NormalAt(u.Pos))
}

const airGravity = 9.8

// desiredVelocity resolves the active path or the manual intent into a
// velocity. Path steering advances waypoints on arrival; an exhausted open
// list stops the unit and clears the path while a closed list wraps.
func (u *Unit) desiredVelocity(up geom.Vec3, cfg *Config) geom.Vec3 {
	if u.path != nil {
		return u.pathVelocity(cfg)
	}

	f := u.Orientation.Forward().ProjectOnPlane(up)
	if f.LengthSq() < 1e-9 {
		// Looking straight along the normal; derive a stable tangent.
		f = u.Orientation.UpAxis().ProjectOnPlane(up)
	}
	f = f.Normalized()
	right := f.Cross(up)

	ax := 0.0
	if u.intent.right {
		ax++
	}
	if u.intent.left {
		ax--
	}
	az := 0.0
	if u.intent.forward {
		az++
	}
	if u.intent.backward {
		az--
	}
	if ax == 0 && az == 0 {
		return geom.Vec3{}
	}
	move := f.Scale(az).Add(right.Scale(ax))
	if move.LengthSq() < 1e-12 {
		return geom.Vec3{}
	}
	// Diagonals normalize to single-axis speed.
	return move.Normalized().Scale(cfg.MoveSpeed)
}

func (u *Unit) pathVelocity(cfg *Config) geom.Vec3 {
	p := u.path
	// Visit each waypoint at most once per tick so a closed loop of
	// already-reached points cannot spin forever.
	for hops := 0; hops <= len(p.Waypoints); hops++ {
		if p.Index >= len(p.Waypoints) {
			p.Index = 0
		}
		wp := p.Waypoints[p.Index]
		to := wp.Sub(u.Pos)
		if to.Length() > cfg.ArriveEpsilon {
			return to.Normalized().Scale(cfg.MoveSpeed)
		}
		// Arrived at the current waypoint.
		p.Index++
		if p.Index < len(p.Waypoints) {
			continue
		}
		if p.Closed {
			p.Index = 0
			continue
		}
		// Open list exhausted: stop and clear.
		u.path = nil
		return geom.Vec3{}
	}
	return geom.Vec3{}
}

// refreshOrientation recomputes the look rotation from the move direction
// (or the previous facing when stationary) and the surface normal, and keeps
// the heading scalar in sync.
func (u *Unit) refreshOrientation(up geom.Vec3) {
	f := u.Vel.ProjectOnPlane(up)
	if f.LengthSq() < 1e-9 {
		f = u.Orientation.Forward().ProjectOnPlane(up)
	}
	if f.LengthSq() < 1e-9 {
		f = u.Orientation.UpAxis().ProjectOnPlane(up)
	}
	if f.LengthSq() < 1e-9 {
		return
	}
	f = f.Normalized()
	u.Orientation = geom.LookRotation(f, up).Normalized()
	u.Heading = math.Atan2(f.X, -f.Z)
}

func (u *Unit) speed() float64 { return u.Vel.Length() }

func (u *Unit) state() protocol.UnitState {
	return protocol.UnitState{
		ID:           u.ID,
		OwnerSlot:    u.OwnerSlot,
		OperatorSlot: u.OperatorSlot,
		Position:     [3]float64{u.Pos.X, u.Pos.Y, u.Pos.Z},
		Quaternion:   [4]float64{u.Orientation.X, u.Orientation.Y, u.Orientation.Z, u.Orientation.W},
		Heading:      u.Heading,
		Speed:        u.speed(),
		HP:           u.HP,
		Mode:         u.Mode,
		Altitude:     u.Altitude,
		ModelIndex:   u.ModelIndex,
	}
}

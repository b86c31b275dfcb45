package room

import (
	"math"
	"testing"

	"spheroid.gg/internal/protocol"
)

func TestGroundedStaysOnTerrain(t *testing.T) {
	r, _ := runningRoom(t, 41)
	u := r.units[1]

	r.Enqueue(HostSlot, protocol.MoveMsg{Type: protocol.TypeMove, Forward: true})
	for i := 0; i < 400; i++ {
		r.StepOnce(nil, nil)
		radius := u.Pos.Length()
		dir := u.Pos.Normalized()
		want := r.sampler.RadiusAt(dir)
		if math.Abs(radius-want) > 1e-6 {
			t.Fatalf("tick %d: radius %v off surface %v", i, radius, want)
		}
		if u.Altitude != 0 || u.VerticalVel != 0 {
			t.Fatalf("grounded unit carries altitude %v / vertical vel %v", u.Altitude, u.VerticalVel)
		}
	}
	// 400 ticks at 12 u/s should have covered real distance.
	if u.speed() == 0 {
		t.Fatalf("unit never moved")
	}
}

func TestAirborneDescendsAndLands(t *testing.T) {
	r := newTestRoom(43)
	joinSlot(t, r, "host")
	hostManifest(t, r, protocol.UnitSpawn{ID: 1, OwnerSlot: 0, Position: [3]float64{1, 0, 0}, Altitude: 20})
	u := r.units[1]

	if u.Mode != protocol.ModeAirborne {
		t.Fatalf("spawn altitude did not produce AIRBORNE, mode=%s", u.Mode)
	}
	prev := u.Altitude
	landedAt := -1
	for i := 0; i < 200; i++ {
		r.StepOnce(nil, nil)
		if u.Mode == protocol.ModeGrounded {
			landedAt = i
			break
		}
		if u.Altitude > prev+1e-9 {
			t.Fatalf("tick %d: altitude climbed from %v to %v", i, prev, u.Altitude)
		}
		prev = u.Altitude
	}
	if landedAt < 0 {
		t.Fatalf("unit never landed")
	}
	// Free fall from 20 under g=9.8 takes just over 2s, 40+ ticks.
	if landedAt < 30 {
		t.Fatalf("landed implausibly fast at tick %d", landedAt)
	}
	if u.Altitude != 0 || u.VerticalVel != 0 {
		t.Fatalf("landing left altitude %v / vertical vel %v", u.Altitude, u.VerticalVel)
	}
	dir := u.Pos.Normalized()
	if math.Abs(u.Pos.Length()-r.sampler.RadiusAt(dir)) > 1e-6 {
		t.Fatalf("landed off the surface")
	}
}

func TestOpenPathStopsAtEnd(t *testing.T) {
	r, _ := runningRoom(t, 47)
	u := r.units[1]

	r.Enqueue(HostSlot, protocol.PathMsg{Type: protocol.TypePath, Waypoints: nearbyPath(r, 3, 3)})
	r.StepOnce(nil, nil)
	if !u.HasPath() {
		t.Fatalf("path not installed")
	}

	stepN(r, 400)

	if u.HasPath() {
		t.Fatalf("open path still active after exhaustion window")
	}
	if u.speed() != 0 {
		t.Fatalf("unit still moving at %v after open path ended", u.speed())
	}
	last := nearbyPath(r, 3, 3)[2]
	d := u.Pos.DistanceTo(vec3([3]float64{last.X, last.Y, last.Z}))
	if d > r.cfg.ArriveEpsilon+r.cfg.MoveSpeed*float64(r.cfg.TickMs)/1000 {
		t.Fatalf("stopped %v away from the final waypoint", d)
	}
}

func TestClosedPathWraps(t *testing.T) {
	r, _ := runningRoom(t, 47)
	u := r.units[1]

	r.Enqueue(HostSlot, protocol.PathMsg{Type: protocol.TypePath, Waypoints: nearbyPath(r, 3, 3), Closed: true})
	r.StepOnce(nil, nil)

	stepN(r, 800)

	if !u.HasPath() {
		t.Fatalf("closed path was cleared")
	}
	if u.path.Index >= len(u.path.Waypoints) {
		t.Fatalf("waypoint index %d out of range", u.path.Index)
	}
}

func TestClosedPathOfReachedPointsDoesNotSpin(t *testing.T) {
	r, _ := runningRoom(t, 47)
	u := r.units[1]

	// Every waypoint within arrival range of the unit.
	wp := protocol.Waypoint{X: u.Pos.X, Y: u.Pos.Y, Z: u.Pos.Z}
	r.Enqueue(HostSlot, protocol.PathMsg{Type: protocol.TypePath, Waypoints: []protocol.Waypoint{wp, wp, wp}, Closed: true})
	r.StepOnce(nil, nil)

	// Must terminate each tick with zero velocity.
	stepN(r, 5)
	if u.speed() != 0 {
		t.Fatalf("degenerate closed path produced speed %v", u.speed())
	}
}

func TestOrientationTracksMovement(t *testing.T) {
	r, _ := runningRoom(t, 53)
	u := r.units[1]

	r.Enqueue(HostSlot, protocol.MoveMsg{Type: protocol.TypeMove, Forward: true})
	stepN(r, 10)

	q := u.Orientation
	norm := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if math.Abs(norm-1) > 1e-9 {
		t.Fatalf("orientation not unit length: %v", norm)
	}

	// Forward axis aligned with velocity, up axis with the surface normal.
	f := q.Forward()
	vdir := u.Vel.Normalized()
	if f.Dot(vdir) < 0.99 {
		t.Fatalf("forward %v does not track velocity %v", f, vdir)
	}
	up := r.sampler.NormalAt(u.Pos)
	if q.UpAxis().Dot(up) < 0.99 {
		t.Fatalf("up axis %v does not track normal %v", q.UpAxis(), up)
	}
	if math.IsNaN(u.Heading) {
		t.Fatalf("heading is NaN")
	}
}

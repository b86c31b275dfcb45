// Package geom provides the vector and quaternion primitives used by the
// simulation. All operations are total: degenerate inputs fall back to safe
// defaults instead of dividing by zero or panicking.
package geom

import "math"

type Vec3 struct {
	X, Y, Z float64
}

// Up is the fallback direction for normalizing degenerate vectors.
var Up = Vec3{X: 0, Y: 1, Z: 0}

func (v Vec3) Add(o Vec3) Vec3   { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3   { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Neg() Vec3         { return Vec3{-v.X, -v.Y, -v.Z} }

func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Length() float64    { return math.Sqrt(v.Dot(v)) }
func (v Vec3) LengthSq() float64  { return v.Dot(v) }
func (v Vec3) DistanceTo(o Vec3) float64 { return v.Sub(o).Length() }

const normalizeEpsilon = 1e-12

// Normalized returns a unit vector, falling back to Up when the input is
// (near) zero so callers never receive NaNs.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l < normalizeEpsilon {
		return Up
	}
	return v.Scale(1 / l)
}

// ProjectOnPlane removes the component of v along the plane normal n.
func (v Vec3) ProjectOnPlane(n Vec3) Vec3 {
	return v.Sub(n.Scale(v.Dot(n)))
}

// IsFinite reports whether all components are finite numbers.
func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

package geom

import "math"

// Quat is a rotation quaternion. The zero value is not a valid rotation; use
// QuatIdentity or one of the constructors.
type Quat struct {
	X, Y, Z, W float64
}

func QuatIdentity() Quat { return Quat{W: 1} }

// FromAxisAngle builds a rotation of angle radians around axis. A degenerate
// axis yields the identity rotation.
func FromAxisAngle(axis Vec3, angle float64) Quat {
	l := axis.Length()
	if l < normalizeEpsilon {
		return QuatIdentity()
	}
	s := math.Sin(angle/2) / l
	return Quat{
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
		W: math.Cos(angle / 2),
	}
}

// LookRotation returns the rotation that maps local -Z onto forward and local
// +Y onto up (after orthonormalizing up against forward). Degenerate inputs
// yield the identity rotation.
func LookRotation(forward, up Vec3) Quat {
	f := forward
	if f.Length() < normalizeEpsilon {
		return QuatIdentity()
	}
	f = f.Normalized()

	u := up.ProjectOnPlane(f)
	if u.Length() < normalizeEpsilon {
		// up is parallel to forward; pick any perpendicular.
		u = Vec3{X: 1}.ProjectOnPlane(f)
		if u.Length() < normalizeEpsilon {
			u = Vec3{Z: 1}.ProjectOnPlane(f)
		}
	}
	u = u.Normalized()
	r := f.Cross(u)

	// Column-major basis: r, u, -f. Shepperd's method.
	m00, m01, m02 := r.X, u.X, -f.X
	m10, m11, m12 := r.Y, u.Y, -f.Y
	m20, m21, m22 := r.Z, u.Z, -f.Z

	trace := m00 + m11 + m22
	var q Quat
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = Quat{
			X: (m21 - m12) / s,
			Y: (m02 - m20) / s,
			Z: (m10 - m01) / s,
			W: s / 4,
		}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = Quat{
			X: s / 4,
			Y: (m01 + m10) / s,
			Z: (m02 + m20) / s,
			W: (m21 - m12) / s,
		}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = Quat{
			X: (m01 + m10) / s,
			Y: s / 4,
			Z: (m12 + m21) / s,
			W: (m02 - m20) / s,
		}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = Quat{
			X: (m02 + m20) / s,
			Y: (m12 + m21) / s,
			Z: s / 4,
			W: (m10 - m01) / s,
		}
	}
	return q.Normalized()
}

func (q Quat) Mul(o Quat) Quat {
	return Quat{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	xyz := Vec3{X: q.X, Y: q.Y, Z: q.Z}
	t := xyz.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(xyz.Cross(t))
}

func (q Quat) Length() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalized returns a unit quaternion, falling back to identity when the
// input is (near) zero.
func (q Quat) Normalized() Quat {
	l := q.Length()
	if l < normalizeEpsilon {
		return QuatIdentity()
	}
	return Quat{X: q.X / l, Y: q.Y / l, Z: q.Z / l, W: q.W / l}
}

func (q Quat) Dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Forward returns the image of local -Z under the rotation.
func (q Quat) Forward() Vec3 { return q.Rotate(Vec3{Z: -1}) }

// UpAxis returns the image of local +Y under the rotation.
func (q Quat) UpAxis() Vec3 { return q.Rotate(Vec3{Y: 1}) }

func (q Quat) IsFinite() bool {
	return isFinite(q.X) && isFinite(q.Y) && isFinite(q.Z) && isFinite(q.W)
}

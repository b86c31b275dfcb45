// Package terrain samples a deterministic height field over a sphere. Two
// samplers built with the same seed agree on every direction, which is what
// lets independent simulations stay in lockstep.
package terrain

import (
	"math"

	"spheroid.gg/internal/sim/geom"
)

const (
	// HeightBand bounds the surface offset from the base radius.
	HeightBand = 6.0

	octaves        = 4
	gradientProbe  = 1e-3
)

type Sampler struct {
	seed       int64
	baseRadius float64

	// Fixed per-seed wave basis, derived once so sampling is allocation free.
	axes   [octaves]geom.Vec3
	freqs  [octaves]float64
	phases [octaves]float64
	amps   [octaves]float64
}

func NewSampler(seed int64, baseRadius float64) *Sampler {
	s := &Sampler{seed: seed, baseRadius: baseRadius}

	// Derive the wave basis from a splitmix stream keyed by the seed. No
	// math/rand state is involved, so independent instances agree exactly.
	state := uint64(seed)
	next := func() float64 {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		return float64(z>>11) / float64(1<<53) // [0,1)
	}

	ampSum := 0.0
	for i := 0; i < octaves; i++ {
		// Uniform direction on the sphere.
		z := 2*next() - 1
		theta := 2 * math.Pi * next()
		r := math.Sqrt(1 - z*z)
		s.axes[i] = geom.Vec3{X: r * math.Cos(theta), Y: r * math.Sin(theta), Z: z}
		s.freqs[i] = float64(int(1)<<uint(i)) * (1.5 + next())
		s.phases[i] = 2 * math.Pi * next()
		s.amps[i] = 1 / float64(int(1)<<uint(i))
		ampSum += s.amps[i]
	}
	for i := 0; i < octaves; i++ {
		s.amps[i] = s.amps[i] / ampSum * HeightBand
	}
	return s
}

func (s *Sampler) Seed() int64         { return s.seed }
func (s *Sampler) BaseRadius() float64 { return s.baseRadius }

// RadiusAt returns the surface radius along dir, always within
// [baseRadius-HeightBand, baseRadius+HeightBand].
func (s *Sampler) RadiusAt(dir geom.Vec3) float64 {
	return s.baseRadius + s.heightAt(dir.Normalized())
}

func (s *Sampler) heightAt(d geom.Vec3) float64 {
	h := 0.0
	for i := 0; i < octaves; i++ {
		h += s.amps[i] * math.Sin(s.freqs[i]*d.Dot(s.axes[i])+s.phases[i])
	}
	if h > HeightBand {
		h = HeightBand
	} else if h < -HeightBand {
		h = -HeightBand
	}
	return h
}

// SurfacePoint returns the surface position along dir.
func (s *Sampler) SurfacePoint(dir geom.Vec3) geom.Vec3 {
	d := dir.Normalized()
	return d.Scale(s.RadiusAt(d))
}

// NormalAt approximates the outward surface normal at pos from central
// differences along two tangents. It always returns a unit vector.
func (s *Sampler) NormalAt(pos geom.Vec3) geom.Vec3 {
	d := pos.Normalized()

	t1 := d.Cross(geom.Vec3{Y: 1})
	if t1.LengthSq() < 1e-9 {
		t1 = d.Cross(geom.Vec3{X: 1})
	}
	t1 = t1.Normalized()
	t2 := d.Cross(t1).Normalized()

	p1a := s.SurfacePoint(d.Add(t1.Scale(gradientProbe)))
	p1b := s.SurfacePoint(d.Sub(t1.Scale(gradientProbe)))
	p2a := s.SurfacePoint(d.Add(t2.Scale(gradientProbe)))
	p2b := s.SurfacePoint(d.Sub(t2.Scale(gradientProbe)))

	n := p1a.Sub(p1b).Cross(p2a.Sub(p2b)).Normalized()
	if n.Dot(d) < 0 {
		n = n.Neg()
	}
	return n
}

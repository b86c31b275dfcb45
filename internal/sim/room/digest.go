package room

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"spheroid.gg/internal/protocol"
	"spheroid.gg/internal/sim/geom"
)

// SnapshotDigest hashes a wire snapshot: the tick and every unit's visible
// state, in the id order snapshots guarantee. The room's own digest is the
// digest of the snapshot it builds, so any peer holding a broadcast snapshot
// can recompute and compare it. Presentation data (player names) and secrets
// (seat PINs) never enter the hash because they never enter the snapshot.
func SnapshotDigest(snap protocol.SnapshotMsg) string {
	h := sha256.New()
	var tmp [8]byte

	digestU64(h, &tmp, snap.Tick)
	digestU64(h, &tmp, uint64(len(snap.Units)))
	for _, u := range snap.Units {
		digestI64(h, &tmp, u.ID)
		digestI64(h, &tmp, int64(u.OwnerSlot))
		digestI64(h, &tmp, int64(u.OperatorSlot))
		digestI64(h, &tmp, int64(u.ModelIndex))
		digestI64(h, &tmp, int64(u.HP))
		for _, f := range u.Position {
			digestF64(h, &tmp, f)
		}
		for _, f := range u.Quaternion {
			digestF64(h, &tmp, f)
		}
		digestF64(h, &tmp, u.Heading)
		digestF64(h, &tmp, u.Speed)
		digestStr(h, u.Mode)
		digestF64(h, &tmp, u.Altitude)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func (r *Room) digest(nowTick uint64) string {
	return SnapshotDigest(r.buildSnapshot(nowTick))
}

// Digest exposes the current state hash; resync handling compares it with
// the peer's reported value.
func (r *Room) Digest() string { return r.digest(r.tick.Load()) }

func digestU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestI64(h hash.Hash, tmp *[8]byte, v int64) {
	digestU64(h, tmp, uint64(v))
}

func digestF64(h hash.Hash, tmp *[8]byte, v float64) {
	digestU64(h, tmp, math.Float64bits(v))
}

func digestStr(h hash.Hash, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// vec3 converts a wire array back to the math type.
func vec3(a [3]float64) geom.Vec3 { return geom.Vec3{X: a[0], Y: a[1], Z: a[2]} }

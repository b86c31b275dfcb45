package room

type Config struct {
	ID         string
	TickMs     int
	Seed       int64
	BaseRadius float64
	MaxPlayers int

	// Unit movement.
	MoveSpeed     float64
	ArriveEpsilon float64
	Gravity       float64

	// Command gate limits.
	MaxManifestUnits int
	MaxWaypoints     int
	MaxSegmentLength float64

	// Seat transfer backoff. Cooldowns double per repeated failure up to
	// base << maxShift.
	SeatCooldownBaseTicks uint64
	SeatCooldownMaxShift  uint64

	// Presence + archive cadence (ticks). SnapshotEveryTicks only matters
	// when an archive sink is attached.
	AnnounceEveryTicks uint64
	SnapshotEveryTicks uint64
}

func (c *Config) applyDefaults() {
	if c.TickMs <= 0 {
		c.TickMs = 50
	}
	if c.BaseRadius <= 0 {
		c.BaseRadius = 150
	}
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 16
	}
	if c.MoveSpeed <= 0 {
		c.MoveSpeed = 12
	}
	if c.ArriveEpsilon <= 0 {
		c.ArriveEpsilon = 0.5
	}
	if c.Gravity <= 0 {
		c.Gravity = 9.8
	}
	if c.MaxManifestUnits <= 0 {
		c.MaxManifestUnits = 64
	}
	if c.MaxWaypoints <= 0 {
		c.MaxWaypoints = 32
	}
	if c.MaxSegmentLength <= 0 {
		c.MaxSegmentLength = 200
	}
	if c.SeatCooldownBaseTicks == 0 {
		c.SeatCooldownBaseTicks = 20
	}
	if c.SeatCooldownMaxShift == 0 {
		c.SeatCooldownMaxShift = 5
	}
	if c.AnnounceEveryTicks == 0 {
		c.AnnounceEveryTicks = 40
	}
	if c.SnapshotEveryTicks == 0 {
		c.SnapshotEveryTicks = 1200
	}
}

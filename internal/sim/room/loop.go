package room

import (
	"context"
	"io"
	"time"
)

// Run drives the fixed tick loop until the context is canceled or the room
// ends. Joins and leaves accumulate between ticks and are applied at the
// tick boundary, keeping the loop the single writer of room state.
func (r *Room) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(r.cfg.TickMs) * time.Millisecond)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []int

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case <-r.stop:
			r.shutdown()
			return nil
		case req := <-r.join:
			pendingJoins = append(pendingJoins, req)
		case slot := <-r.leave:
			pendingLeaves = append(pendingLeaves, slot)
		case <-ticker.C:
			r.stepInternal(pendingJoins, pendingLeaves)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			if r.state == StateEnded {
				r.shutdown()
				return nil
			}
		}
	}
}

func (r *Room) shutdown() {
	r.state = StateEnded
	if c, ok := r.tickLogger.(io.Closer); ok {
		_ = c.Close()
	}
	r.Stop()
}

// Stop is idempotent; the first call releases the loop.
func (r *Room) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// End marks the room terminal. Ticking stops at the next boundary.
func (r *Room) End() {
	r.Stop()
}

// StepOnce advances the room a single tick with the given boundary events.
// It exists for deterministic tests and replays and must not be mixed with a
// running loop.
func (r *Room) StepOnce(joins []JoinRequest, leaves []int) (tick uint64, digest string) {
	tick = r.tick.Load()
	r.stepInternal(joins, leaves)
	return tick, r.digest(tick)
}

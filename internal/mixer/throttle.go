package mixer

import "time"

// DefaultMinWriteInterval is the minimum spacing between accepted writes
// to the same cell.
const DefaultMinWriteInterval = 5 * time.Millisecond

// writeDecision is the outcome of a throttled write attempt.
type writeDecision struct {
	accepted bool

	// level is the accepted level, or the cached level when rejected.
	level float64

	// previous is the level before an accepted write.
	previous float64
}

// throttleGuard gates outbound writes per cell.
type throttleGuard struct {
	cache       *StateCache
	minInterval time.Duration
	now         func() time.Time
}

// admit clamps the requested level and decides whether it may be sent.
// An accepted write updates the cell level and timestamp in one step so
// two concurrent writers cannot both pass the gate. A rejected write
// leaves the cache untouched.
func (g *throttleGuard) admit(channel, bus int, requested float64) writeDecision {
	level := Clamp(requested)
	now := g.now()

	c := g.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, exists := c.cells[cellKey{channel, bus}]
	if exists && !cl.lastWrite.IsZero() && now.Sub(cl.lastWrite) < g.minInterval {
		return writeDecision{accepted: false, level: cl.level}
	}
	if !exists {
		cl = c.cellLocked(channel, bus)
	}

	previous := cl.level
	cl.level = level
	cl.lastWrite = now
	return writeDecision{accepted: true, level: level, previous: previous}
}

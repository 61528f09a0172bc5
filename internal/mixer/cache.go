package mixer

import (
	"sync"
	"time"
)

type cellKey struct {
	channel int
	bus     int
}

type cell struct {
	level     float64
	lastWrite time.Time
}

type nameKey struct {
	kind NameKind
	id   int
}

// StateCache is the local mirror of mixer state.
//
// Cells are created lazily on the first observed or written level and are
// never removed. Unknown levels read as 0.
type StateCache struct {
	mu          sync.RWMutex
	cells       map[cellKey]*cell
	masters     map[int]float64
	deviceNames map[nameKey]string
	customNames map[nameKey]CustomName
}

// NewStateCache creates an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{
		cells:       make(map[cellKey]*cell),
		masters:     make(map[int]float64),
		deviceNames: make(map[nameKey]string),
		customNames: make(map[nameKey]CustomName),
	}
}

// Level returns the cached send level and whether it has ever been set.
func (c *StateCache) Level(channel, bus int) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cl, ok := c.cells[cellKey{channel, bus}]
	if !ok {
		return 0, false
	}
	return cl.level, true
}

// SetLevel stores a clamped level and returns the previous one (0 if unset).
func (c *StateCache) SetLevel(channel, bus int, level float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl := c.cellLocked(channel, bus)
	previous := cl.level
	cl.level = Clamp(level)
	return previous
}

// LastWrite returns the time of the last accepted outbound write.
func (c *StateCache) LastWrite(channel, bus int) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cl, ok := c.cells[cellKey{channel, bus}]; ok {
		return cl.lastWrite
	}
	return time.Time{}
}

// MasterLevel returns the cached bus master level.
func (c *StateCache) MasterLevel(bus int) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, ok := c.masters[bus]
	return level, ok
}

// SetMasterLevel stores a clamped master level and returns the previous one.
func (c *StateCache) SetMasterLevel(bus int, level float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.masters[bus]
	c.masters[bus] = Clamp(level)
	return previous
}

// ClearWrites resets the throttle timestamps of one bus. Levels are kept.
func (c *StateCache) ClearWrites(bus int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, cl := range c.cells {
		if key.bus == bus {
			cl.lastWrite = time.Time{}
		}
	}
}

// ClearAllWrites resets every throttle timestamp. Levels are kept.
func (c *StateCache) ClearAllWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cl := range c.cells {
		cl.lastWrite = time.Time{}
	}
}

// Snapshot copies one bus out of the cache under a single read lock.
func (c *StateCache) Snapshot(bus int) BusSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := BusSnapshot{
		Bus:         bus,
		Name:        c.resolveLocked(NameKindBus, bus),
		MasterLevel: c.masters[bus],
		Channels:    make([]ChannelSnapshot, 0, NumChannels),
	}
	for ch := 1; ch <= NumChannels; ch++ {
		var level float64
		if cl, ok := c.cells[cellKey{ch, bus}]; ok {
			level = cl.level
		}
		snap.Channels = append(snap.Channels, ChannelSnapshot{
			Number: ch,
			Name:   c.resolveLocked(NameKindChannel, ch),
			Level:  level,
		})
	}
	return snap
}

func (c *StateCache) cellLocked(channel, bus int) *cell {
	key := cellKey{channel, bus}
	cl, ok := c.cells[key]
	if !ok {
		cl = &cell{}
		c.cells[key] = cl
	}
	return cl
}

package api

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// fakeMixer is an in-memory Mixer. Writes are range-checked and clamped
// like the real engine but never throttled.
type fakeMixer struct {
	mu        sync.Mutex
	connected bool
	levels    map[[2]int]float64
	masters   map[int]float64
	started   []int
	stopped   []int
	refreshes int
	resets    chan struct{}
	refreshFn func() error
}

func newFakeMixer() *fakeMixer {
	return &fakeMixer{
		connected: true,
		levels:    make(map[[2]int]float64),
		masters:   make(map[int]float64),
		resets:    make(chan struct{}, 1),
	}
}

func (m *fakeMixer) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

func (m *fakeMixer) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *fakeMixer) Buses() []mixer.BusSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]mixer.BusSummary, 0, mixer.NumBuses)
	for bus := 1; bus <= mixer.NumBuses; bus++ {
		out = append(out, mixer.BusSummary{
			Bus:         bus,
			Name:        mixer.DefaultName(mixer.NameKindBus, bus),
			MasterLevel: m.masters[bus],
		})
	}
	return out
}

func (m *fakeMixer) GetBusSnapshot(ctx context.Context, bus int) (mixer.BusSnapshot, error) {
	if err := mixer.ValidateBus(bus); err != nil {
		return mixer.BusSnapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return mixer.BusSnapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mixer.BusSnapshot{}, mixer.ErrNotConnected
	}

	snap := mixer.BusSnapshot{
		Bus:         bus,
		Name:        mixer.DefaultName(mixer.NameKindBus, bus),
		MasterLevel: m.masters[bus],
	}
	for ch := 1; ch <= mixer.NumChannels; ch++ {
		snap.Channels = append(snap.Channels, mixer.ChannelSnapshot{
			Number: ch,
			Name:   mixer.DefaultName(mixer.NameKindChannel, ch),
			Level:  m.levels[[2]int{ch, bus}],
		})
	}
	return snap, nil
}

func (m *fakeMixer) SetChannelLevel(channel, bus int, level float64) (float64, error) {
	if err := mixer.ValidateChannel(channel); err != nil {
		return 0, err
	}
	if err := mixer.ValidateBus(bus); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, mixer.ErrNotConnected
	}
	level = mixer.Clamp(level)
	m.levels[[2]int{channel, bus}] = level
	return level, nil
}

func (m *fakeMixer) SetChannelMute(channel, bus int, muted bool) (float64, error) {
	level := mixer.UnmuteLevel
	if muted {
		level = mixer.MinLevel
	}
	return m.SetChannelLevel(channel, bus, level)
}

func (m *fakeMixer) SetBusMasterLevel(bus int, level float64) (float64, error) {
	if err := mixer.ValidateBus(bus); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, mixer.ErrNotConnected
	}
	level = mixer.Clamp(level)
	m.masters[bus] = level
	return level, nil
}

func (m *fakeMixer) StartActivePolling(bus int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, bus)
	return nil
}

func (m *fakeMixer) StopActivePolling(bus int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, bus)
	return nil
}

func (m *fakeMixer) RefreshNames(context.Context) error {
	m.mu.Lock()
	m.refreshes++
	fn := m.refreshFn
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

func (m *fakeMixer) ResolveName(kind mixer.NameKind, id int) string {
	return mixer.DefaultName(kind, id)
}

func (m *fakeMixer) ResetAllToMinimum(context.Context) error {
	m.mu.Lock()
	for key := range m.levels {
		m.levels[key] = mixer.MinLevel
	}
	m.mu.Unlock()
	m.resets <- struct{}{}
	return nil
}

func (m *fakeMixer) Stats() mixer.Stats {
	return mixer.Stats{Connected: m.IsConnected()}
}

func (m *fakeMixer) Level(channel, bus int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[[2]int{channel, bus}]
}

func (m *fakeMixer) GetStarted() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.started)
}

func (m *fakeMixer) GetStopped() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.stopped)
}

func (m *fakeMixer) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

// fakeHealth is a HealthChecker with a settable result.
type fakeHealth struct {
	err error
}

func (f fakeHealth) HealthCheck(context.Context) error {
	return f.err
}

var errDown = errors.New("down")

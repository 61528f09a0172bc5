package mixer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// receiveErrorBackoff is the pause after an unexpected receive error.
const receiveErrorBackoff = 100 * time.Millisecond

// Options configures an Engine. Zero durations take the package defaults.
type Options struct {
	// Host and Port address the mixer.
	Host string
	Port int

	// LocalPort is the fixed port the listener binds.
	LocalPort int

	KeepAliveInterval   time.Duration
	GeneralPollInterval time.Duration
	ActivePollInterval  time.Duration
	GraceWindow         time.Duration

	// SnapshotWait is the bounded delay between requesting a bus and
	// reading it from the cache. Configuration keeps it within 100ms-1s.
	SnapshotWait time.Duration

	MinWriteInterval time.Duration
	RequestSpacing   time.Duration
	ResetStagger     time.Duration

	// NameStore supplies custom names. Optional.
	NameStore NameStore

	// Dial opens the transport. Defaults to DialUDP.
	Dial DialFunc

	// Now is the clock used for throttling and the grace window.
	Now func() time.Time

	Logger Logger
}

func (o *Options) applyDefaults() {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.LocalPort == 0 {
		o.LocalPort = DefaultLocalPort
	}
	if o.KeepAliveInterval == 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.GeneralPollInterval == 0 {
		o.GeneralPollInterval = DefaultGeneralPollInterval
	}
	if o.ActivePollInterval == 0 {
		o.ActivePollInterval = DefaultActivePollInterval
	}
	if o.GraceWindow == 0 {
		o.GraceWindow = DefaultGraceWindow
	}
	if o.SnapshotWait == 0 {
		o.SnapshotWait = DefaultSnapshotWait
	}
	if o.MinWriteInterval == 0 {
		o.MinWriteInterval = DefaultMinWriteInterval
	}
	if o.RequestSpacing == 0 {
		o.RequestSpacing = DefaultRequestSpacing
	}
	if o.ResetStagger == 0 {
		o.ResetStagger = DefaultResetStagger
	}
	if o.Dial == nil {
		o.Dial = dialUDP
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) validate() error {
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("mixer port %d out of range", o.Port)
	}
	if o.LocalPort < 1 || o.LocalPort > 65535 {
		return fmt.Errorf("mixer local port %d out of range", o.LocalPort)
	}
	if o.KeepAliveInterval < 0 || o.GeneralPollInterval < 0 || o.ActivePollInterval < 0 {
		return errors.New("poll intervals must be positive")
	}
	if o.RequestSpacing < 0 || o.ResetStagger < 0 {
		return errors.New("request spacing and reset stagger must not be negative")
	}
	return nil
}

// Engine is the mixer synchronisation engine.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - The change listener is called synchronously from the goroutine that
//     observed the change, never while engine locks are held.
type Engine struct {
	opts  Options
	cache *StateCache
	guard *throttleGuard
	now   func() time.Time

	// Session state, guarded by mu.
	mu            sync.RWMutex
	transport     Transport
	connected     bool
	connecting    bool
	dialAborted   bool
	dialCancel    context.CancelFunc
	connectTime   time.Time
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	group         *errgroup.Group
	keepAlive     *task
	generalPoll   *task
	activePolls   map[int]*task

	listenerMu sync.RWMutex
	listener   ChangeListener

	loggerMu sync.RWMutex
	logger   Logger

	inbound          atomic.Uint64
	noResponseWarned atomic.Bool
	messagesTx       atomic.Uint64
	messagesDropped  atomic.Uint64
	transportDropped atomic.Uint64
	sendErrors       atomic.Uint64
	writesThrottled  atomic.Uint64
	changesEmitted   atomic.Uint64
	lastActivity     atomic.Int64
}

// NewEngine creates an engine. It does not touch the network until Connect.
func NewEngine(opts Options) (*Engine, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	cache := NewStateCache()
	e := &Engine{
		opts:        opts,
		cache:       cache,
		now:         opts.Now,
		activePolls: make(map[int]*task),
		logger:      opts.Logger,
	}
	e.guard = &throttleGuard{cache: cache, minInterval: opts.MinWriteInterval, now: opts.Now}
	return e, nil
}

// Connect starts the mixer session in the background. Failures are logged
// and leave the engine disconnected; callers poll IsConnected.
func (e *Engine) Connect(ctx context.Context) {
	e.mu.Lock()
	if e.connected || e.connecting {
		e.mu.Unlock()
		return
	}
	e.connecting = true
	e.mu.Unlock()

	go func() {
		err := e.connect(ctx)
		switch {
		case errors.Is(err, errDialAborted):
			e.logInfo("mixer connection abandoned by disconnect", "host", e.opts.Host, "port", e.opts.Port)
		case err != nil:
			e.logError("mixer connection failed", err, "host", e.opts.Host, "port", e.opts.Port)
		}
	}()
}

// errDialAborted is returned by connect when Disconnect ran mid-dial.
var errDialAborted = fmt.Errorf("connection attempt aborted: %w", context.Canceled)

// connect opens the transport and starts the receive loop and timers.
// A Disconnect while the dial is in flight aborts the attempt: the new
// transport is closed and no session is published.
func (e *Engine) connect(ctx context.Context) error {
	dialCtx, dialCancel := context.WithCancel(ctx)
	defer dialCancel()

	e.mu.Lock()
	if e.dialAborted {
		e.dialAborted = false
		e.connecting = false
		e.mu.Unlock()
		return errDialAborted
	}
	e.connecting = true
	e.dialCancel = dialCancel
	e.mu.Unlock()

	published := false
	defer func() {
		if published {
			return
		}
		e.mu.Lock()
		e.connecting = false
		e.dialAborted = false
		e.dialCancel = nil
		e.mu.Unlock()
	}()

	t, err := e.opts.Dial(dialCtx, TransportConfig{
		Host:      e.opts.Host,
		Port:      e.opts.Port,
		LocalPort: e.opts.LocalPort,
	})
	if err != nil {
		e.mu.RLock()
		aborted := e.dialAborted
		e.mu.RUnlock()
		if aborted {
			return errDialAborted
		}
		return fmt.Errorf("opening transport: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(sessionCtx)

	e.mu.Lock()
	if e.dialAborted {
		e.mu.Unlock()
		cancel()
		if closeErr := t.Close(); closeErr != nil {
			e.logError("closing abandoned transport", closeErr)
		}
		return errDialAborted
	}

	e.inbound.Store(0)
	e.noResponseWarned.Store(false)
	e.cache.ClearAllWrites()

	published = true
	e.connecting = false
	e.dialCancel = nil
	e.transport = t
	e.connected = true
	e.connectTime = e.now()
	e.sessionCtx = gctx
	e.sessionCancel = cancel
	e.group = g
	e.keepAlive = startTask(gctx, "keepalive", e.opts.KeepAliveInterval, true, e.sendKeepAlive)
	e.generalPoll = startTask(gctx, "general-poll", e.opts.GeneralPollInterval, true, e.pollAll)
	for bus := range e.activePolls {
		e.activePolls[bus] = e.startActivePollLocked(bus)
	}
	e.mu.Unlock()

	g.Go(func() error {
		return e.receiveLoop(gctx, t)
	})

	e.logInfo("mixer session started",
		"host", e.opts.Host,
		"port", e.opts.Port,
		"local_port", e.opts.LocalPort,
	)
	return nil
}

// Disconnect cancels every timer, closes both endpoints and waits for the
// receive loop. Active poll membership is kept so polling resumes on the
// next Connect.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	if !e.connected {
		if e.connecting {
			e.dialAborted = true
			if e.dialCancel != nil {
				e.dialCancel()
			}
		}
		e.mu.Unlock()
		return nil
	}

	tasks := []*task{e.keepAlive, e.generalPoll}
	for bus, t := range e.activePolls {
		tasks = append(tasks, t)
		e.activePolls[bus] = nil
	}
	t := e.transport
	cancel := e.sessionCancel
	g := e.group

	e.connected = false
	e.transport = nil
	e.sessionCtx = nil
	e.sessionCancel = nil
	e.group = nil
	e.keepAlive = nil
	e.generalPoll = nil
	e.mu.Unlock()

	cancel()
	for _, tk := range tasks {
		tk.Stop()
	}

	closeErr := t.Close()
	if dc, ok := t.(dropCounter); ok {
		e.transportDropped.Add(dc.Dropped())
	}
	if err := g.Wait(); err != nil {
		e.logError("receive loop ended with error", err)
	}

	e.logInfo("mixer session closed")
	if closeErr != nil {
		return fmt.Errorf("closing transport: %w", closeErr)
	}
	return nil
}

// IsConnected reports whether a session is active.
func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// RegisterChangeCallback sets the single change listener. A later call
// replaces the earlier listener; nil removes it.
func (e *Engine) RegisterChangeCallback(fn ChangeListener) {
	e.listenerMu.Lock()
	e.listener = fn
	e.listenerMu.Unlock()
}

// SetChannelLevel writes a channel's send level to a bus through the
// throttle guard and returns the accepted level. A throttled write
// returns the cached level and sends nothing.
func (e *Engine) SetChannelLevel(channel, bus int, level float64) (float64, error) {
	if err := validateCell(channel, bus); err != nil {
		return 0, err
	}
	t := e.currentTransport()
	if t == nil {
		return 0, ErrNotConnected
	}

	d := e.guard.admit(channel, bus, level)
	if !d.accepted {
		e.writesThrottled.Add(1)
		return d.level, nil
	}

	e.send(t, channelLevelAddress(channel, bus), float32(d.level))
	if exceedsNoise(d.previous, d.level) {
		e.emit(channelChange(bus, channel, d.level, e.now()))
	}
	return d.level, nil
}

// SetChannelMute mutes a send (level 0) or restores it to UnmuteLevel.
func (e *Engine) SetChannelMute(channel, bus int, muted bool) (float64, error) {
	level := UnmuteLevel
	if muted {
		level = MinLevel
	}
	return e.SetChannelLevel(channel, bus, level)
}

// SetBusMasterLevel writes a bus master fader. Not throttled.
func (e *Engine) SetBusMasterLevel(bus int, level float64) (float64, error) {
	if err := ValidateBus(bus); err != nil {
		return 0, err
	}
	t := e.currentTransport()
	if t == nil {
		return 0, ErrNotConnected
	}

	level = Clamp(level)
	previous := e.cache.SetMasterLevel(bus, level)
	e.send(t, busFaderAddress(bus), float32(level))
	if exceedsNoise(previous, level) {
		e.emit(masterChange(bus, level, e.now()))
	}
	return level, nil
}

// GetBusSnapshot requests fresh values for a bus, waits SnapshotWait for
// replies, then returns whatever the cache holds. Unknown levels are 0.
func (e *Engine) GetBusSnapshot(ctx context.Context, bus int) (BusSnapshot, error) {
	if err := ValidateBus(bus); err != nil {
		return BusSnapshot{}, err
	}
	t := e.currentTransport()
	if t == nil {
		return BusSnapshot{}, ErrNotConnected
	}

	e.requestBusLevels(ctx, t, bus)
	e.send(t, busNameAddress(bus))
	for ch := 1; ch <= NumChannels; ch++ {
		e.send(t, channelNameAddress(ch))
	}

	timer := time.NewTimer(e.opts.SnapshotWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return BusSnapshot{}, ctx.Err()
	case <-timer.C:
	}

	return e.cache.Snapshot(bus), nil
}

// Buses returns every bus with its resolved name and cached master level.
// No requests are sent.
func (e *Engine) Buses() []BusSummary {
	out := make([]BusSummary, 0, NumBuses)
	for bus := 1; bus <= NumBuses; bus++ {
		master, _ := e.cache.MasterLevel(bus)
		out = append(out, BusSummary{
			Bus:         bus,
			Name:        e.cache.ResolveName(NameKindBus, bus),
			MasterLevel: master,
		})
	}
	return out
}

// ResolveName returns the display name for a channel or bus.
func (e *Engine) ResolveName(kind NameKind, id int) string {
	return e.cache.ResolveName(kind, id)
}

// RefreshNames reloads custom names from the NameStore. Device names are
// kept. On error the previous custom names stay in place.
func (e *Engine) RefreshNames(ctx context.Context) error {
	if e.opts.NameStore == nil {
		return nil
	}

	for _, kind := range []NameKind{NameKindChannel, NameKindBus} {
		names, err := e.opts.NameStore.GetNames(ctx, kind)
		if err != nil {
			return fmt.Errorf("loading %s names: %w", kind, err)
		}
		e.cache.ReplaceCustomNames(kind, names)
	}

	e.logDebug("custom names refreshed")
	return nil
}

// StartActivePolling begins high-frequency polling of a bus. Calling it
// for a bus already polled is a no-op. Throttle timestamps of the bus are
// cleared. When disconnected the bus is remembered and polling starts on
// the next Connect.
func (e *Engine) StartActivePolling(bus int) error {
	if err := ValidateBus(bus); err != nil {
		return err
	}

	e.mu.Lock()
	if _, ok := e.activePolls[bus]; ok {
		e.mu.Unlock()
		return nil
	}
	e.activePolls[bus] = nil
	if e.connected {
		e.activePolls[bus] = e.startActivePollLocked(bus)
	}
	e.mu.Unlock()

	e.cache.ClearWrites(bus)
	e.logDebug("active polling started", "bus", bus)
	return nil
}

// StopActivePolling ends high-frequency polling of a bus. Stopping a bus
// that is not polled is a no-op apart from clearing its throttle
// timestamps.
func (e *Engine) StopActivePolling(bus int) error {
	if err := ValidateBus(bus); err != nil {
		return err
	}

	e.mu.Lock()
	t, ok := e.activePolls[bus]
	delete(e.activePolls, bus)
	e.mu.Unlock()

	t.Stop()
	e.cache.ClearWrites(bus)
	if ok {
		e.logDebug("active polling stopped", "bus", bus)
	}
	return nil
}

// ActiveBuses lists buses under active polling, ascending.
func (e *Engine) ActiveBuses() []int {
	e.mu.RLock()
	buses := make([]int, 0, len(e.activePolls))
	for bus := range e.activePolls {
		buses = append(buses, bus)
	}
	e.mu.RUnlock()

	slices.Sort(buses)
	return buses
}

// startActivePollLocked must be called with mu held and a live session.
func (e *Engine) startActivePollLocked(bus int) *task {
	return startTask(e.sessionCtx, fmt.Sprintf("active-poll-%d", bus), e.opts.ActivePollInterval, false,
		func(ctx context.Context) { e.pollBus(ctx, bus) })
}

// ClearThrottle resets throttle timestamps of one bus.
func (e *Engine) ClearThrottle(bus int) {
	e.cache.ClearWrites(bus)
}

// ClearAllThrottling resets every throttle timestamp.
func (e *Engine) ClearAllThrottling() {
	e.cache.ClearAllWrites()
}

// ResetAllToMinimum sets every channel send on every bus to 0, one write
// per ResetStagger. Individual failures are logged and skipped.
func (e *Engine) ResetAllToMinimum(ctx context.Context) error {
	if !e.IsConnected() {
		return ErrNotConnected
	}

	e.ClearAllThrottling()

	limit := rate.Inf
	if e.opts.ResetStagger > 0 {
		limit = rate.Every(e.opts.ResetStagger)
	}
	limiter := rate.NewLimiter(limit, 1)

	failed := 0
	for bus := 1; bus <= NumBuses; bus++ {
		for ch := 1; ch <= NumChannels; ch++ {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("resetting levels: %w", err)
			}
			if _, err := e.SetChannelLevel(ch, bus, MinLevel); err != nil {
				failed++
				e.logWarn("resetting level failed", "channel", ch, "bus", bus, "error", err)
			}
		}
	}

	e.logInfo("channel levels reset to minimum", "cells", NumChannels*NumBuses, "failed", failed)
	return nil
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	connected := e.connected
	since := e.connectTime
	t := e.transport
	e.mu.RUnlock()

	dropped := e.messagesDropped.Load() + e.transportDropped.Load()
	if dc, ok := t.(dropCounter); ok {
		dropped += dc.Dropped()
	}

	s := Stats{
		Connected:       connected,
		ActiveBuses:     e.ActiveBuses(),
		MessagesRx:      e.inbound.Load(),
		MessagesTx:      e.messagesTx.Load(),
		MessagesDropped: dropped,
		SendErrors:      e.sendErrors.Load(),
		WritesThrottled: e.writesThrottled.Load(),
		ChangesEmitted:  e.changesEmitted.Load(),
	}
	if connected {
		s.ConnectedSince = since
		s.Polling = e.pollAllowed()
	}
	if ts := e.lastActivity.Load(); ts > 0 {
		s.LastActivity = time.Unix(0, ts)
	}
	return s
}

// receiveLoop feeds inbound datagrams to the router until the session ends.
func (e *Engine) receiveLoop(ctx context.Context, t Transport) error {
	for {
		data, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrTransportClosed) {
				return nil
			}
			e.logError("receiving datagram", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}
		e.handleDatagram(data)
	}
}

// handleDatagram decodes and routes one datagram. Malformed input is
// counted and dropped.
func (e *Engine) handleDatagram(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		e.messagesDropped.Add(1)
		e.logDebug("dropping malformed datagram", "error", err, "size", len(data))
		return
	}

	e.inbound.Add(1)
	e.lastActivity.Store(e.now().UnixNano())
	e.dispatch(msg)
}

// send encodes and transmits one message. Failures are counted and logged.
func (e *Engine) send(t Transport, address string, args ...any) {
	data, err := Encode(address, args...)
	if err != nil {
		e.sendErrors.Add(1)
		e.logError("encoding message", err, "address", address)
		return
	}
	if err := t.Send(data); err != nil {
		e.sendErrors.Add(1)
		if !errors.Is(err, ErrTransportClosed) {
			e.logDebug("sending message failed", "address", address, "error", err)
		}
		return
	}
	e.messagesTx.Add(1)
}

// emit hands an event to the listener. A panicking listener is logged.
func (e *Engine) emit(ev ChangeEvent) {
	e.changesEmitted.Add(1)

	e.listenerMu.RLock()
	fn := e.listener
	e.listenerMu.RUnlock()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logError("change listener panicked", fmt.Errorf("%v", r), "bus", ev.Bus)
		}
	}()
	fn(ev)
}

func (e *Engine) currentTransport() Transport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.connected {
		return nil
	}
	return e.transport
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *Engine) getLogger() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if l := e.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if l := e.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (e *Engine) logWarn(msg string, keysAndValues ...any) {
	if l := e.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (e *Engine) logError(msg string, err error, keysAndValues ...any) {
	if l := e.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

package mixer

import (
	"context"
	"sync"
	"time"
)

// Default polling schedule.
const (
	// DefaultKeepAliveInterval keeps the mixer's remote session open.
	// The XR18 drops /xremote subscribers after 10 seconds.
	DefaultKeepAliveInterval = 9 * time.Second

	// DefaultGeneralPollInterval is the full sweep period.
	DefaultGeneralPollInterval = 10 * time.Second

	// DefaultActivePollInterval is the per-bus sweep period while watched.
	DefaultActivePollInterval = time.Second

	// DefaultGraceWindow is how long polling continues after connect
	// without any reply from the mixer.
	DefaultGraceWindow = 30 * time.Second

	// DefaultSnapshotWait is how long GetBusSnapshot waits for replies
	// before reading the cache.
	DefaultSnapshotWait = 300 * time.Millisecond

	// DefaultRequestSpacing separates consecutive requests in a sweep.
	DefaultRequestSpacing = 2 * time.Millisecond

	// DefaultResetStagger separates writes in ResetAllToMinimum.
	DefaultResetStagger = 10 * time.Millisecond
)

// task is a cancellable periodic job.
type task struct {
	name     string
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// startTask runs fn every interval until parent is done or Stop is called.
// With immediate set, fn also runs once right away.
func startTask(parent context.Context, name string, interval time.Duration, immediate bool, fn func(context.Context)) *task {
	ctx, cancel := context.WithCancel(parent)
	t := &task{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)

		if immediate {
			fn(ctx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	return t
}

// Stop cancels the task and waits for it to exit. Safe on a nil task and
// safe to call more than once.
func (t *task) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(t.cancel)
	<-t.done
}

// running reports whether the task goroutine is still alive.
func (t *task) running() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// sendKeepAlive renews the mixer's remote session.
func (e *Engine) sendKeepAlive(_ context.Context) {
	t := e.currentTransport()
	if t == nil {
		return
	}
	e.send(t, addrXRemote)
	e.send(t, addrInfo)
}

// pollAll requests every cell level, every master and every name.
func (e *Engine) pollAll(ctx context.Context) {
	if !e.shouldPoll() {
		return
	}
	t := e.currentTransport()
	if t == nil {
		return
	}

	for bus := 1; bus <= NumBuses; bus++ {
		if !e.requestBusLevels(ctx, t, bus) {
			return
		}
	}
	e.requestNames(ctx, t)
}

// pollBus requests one bus's levels. Used by active polling.
func (e *Engine) pollBus(ctx context.Context, bus int) {
	if !e.shouldPoll() {
		return
	}
	if t := e.currentTransport(); t != nil {
		e.requestBusLevels(ctx, t, bus)
	}
}

// requestBusLevels asks for all channel sends of a bus and its master.
// Returns false if ctx ended mid-sweep.
func (e *Engine) requestBusLevels(ctx context.Context, t Transport, bus int) bool {
	for ch := 1; ch <= NumChannels; ch++ {
		e.send(t, channelLevelAddress(ch, bus))
		if !e.pause(ctx) {
			return false
		}
	}
	e.send(t, busFaderAddress(bus))
	return e.pause(ctx)
}

// requestNames asks for every channel and bus name.
func (e *Engine) requestNames(ctx context.Context, t Transport) bool {
	for ch := 1; ch <= NumChannels; ch++ {
		e.send(t, channelNameAddress(ch))
		if !e.pause(ctx) {
			return false
		}
	}
	for bus := 1; bus <= NumBuses; bus++ {
		e.send(t, busNameAddress(bus))
		if !e.pause(ctx) {
			return false
		}
	}
	return true
}

// pause waits RequestSpacing between requests.
func (e *Engine) pause(ctx context.Context) bool {
	if e.opts.RequestSpacing <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.opts.RequestSpacing):
		return true
	}
}

// pollAllowed reports whether the mixer has answered at least once this
// session, or the grace window since connect has not yet passed.
func (e *Engine) pollAllowed() bool {
	if e.inbound.Load() > 0 {
		return true
	}

	e.mu.RLock()
	connectTime := e.connectTime
	e.mu.RUnlock()

	return e.now().Sub(connectTime) < e.opts.GraceWindow
}

// shouldPoll reports whether level polling is worthwhile. The first
// negative answer of a session logs ErrNoResponse.
func (e *Engine) shouldPoll() bool {
	if e.pollAllowed() {
		return true
	}

	if e.noResponseWarned.CompareAndSwap(false, true) {
		e.logWarn("mixer has not answered, suspending level polling",
			"error", ErrNoResponse,
			"grace_window", e.opts.GraceWindow,
			"host", e.opts.Host,
		)
	}
	return false
}

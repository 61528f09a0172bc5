package relay

import (
	"sync"

	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// Sink receives change events. HandleChange runs on the engine's receive
// goroutine and must not block.
type Sink interface {
	HandleChange(ev mixer.ChangeEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev mixer.ChangeEvent)

// HandleChange calls f(ev).
func (f SinkFunc) HandleChange(ev mixer.ChangeEvent) { f(ev) }

// Fanout delivers each event to every sink in registration order. A
// panicking sink is logged and does not stop the others.
type Fanout struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger Logger
}

// Logger is satisfied by logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewFanout returns a Fanout over sinks. Nil sinks are skipped.
func NewFanout(logger Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add appends a sink.
func (f *Fanout) Add(s Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// HandleChange delivers ev to every sink.
func (f *Fanout) HandleChange(ev mixer.ChangeEvent) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	for _, s := range sinks {
		f.deliver(s, ev)
	}
}

// Listener returns f as the engine's change callback.
func (f *Fanout) Listener() mixer.ChangeListener {
	return f.HandleChange
}

func (f *Fanout) deliver(s Sink, ev mixer.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil && f.logger != nil {
			f.logger.Error("change sink panic recovered", "bus", ev.Bus, "panic", r)
		}
	}()
	s.HandleChange(ev)
}

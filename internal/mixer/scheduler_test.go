package mixer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskRunsAndStops(t *testing.T) {
	var calls atomic.Int32
	tk := startTask(context.Background(), "test", 5*time.Millisecond, true, func(context.Context) {
		calls.Add(1)
	})

	waitFor(t, func() bool { return calls.Load() >= 3 })
	tk.Stop()
	tk.Stop()

	if tk.running() {
		t.Error("task still running after Stop")
	}
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != n {
		t.Error("task fired after Stop")
	}
}

func TestTaskStopsWithParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tk := startTask(ctx, "test", time.Hour, false, func(context.Context) {})

	cancel()
	waitFor(t, func() bool { return !tk.running() })
}

func TestNilTaskStop(t *testing.T) {
	var tk *task
	tk.Stop()
	if tk.running() {
		t.Error("nil task reported running")
	}
}

func TestActivePollingIdempotent(t *testing.T) {
	e, _, _ := testEngine(t, newFakeClock())

	if err := e.StartActivePolling(3); err != nil {
		t.Fatalf("StartActivePolling() error = %v", err)
	}
	e.mu.RLock()
	first := e.activePolls[3]
	e.mu.RUnlock()

	if err := e.StartActivePolling(3); err != nil {
		t.Fatalf("second StartActivePolling() error = %v", err)
	}
	e.mu.RLock()
	second := e.activePolls[3]
	e.mu.RUnlock()

	if first != second {
		t.Error("second start replaced the running task")
	}
	if got := e.ActiveBuses(); len(got) != 1 || got[0] != 3 {
		t.Errorf("ActiveBuses() = %v, want [3]", got)
	}

	if err := e.StopActivePolling(3); err != nil {
		t.Fatalf("StopActivePolling() error = %v", err)
	}
	if first.running() {
		t.Error("task still running after stop")
	}
	if err := e.StopActivePolling(3); err != nil {
		t.Errorf("second StopActivePolling() error = %v", err)
	}
	if err := e.StopActivePolling(5); err != nil {
		t.Errorf("StopActivePolling(never started) error = %v", err)
	}
	if len(e.ActiveBuses()) != 0 {
		t.Errorf("ActiveBuses() = %v, want empty", e.ActiveBuses())
	}
}

func TestActivePollingClearsThrottle(t *testing.T) {
	clock := newFakeClock()
	e, transport, _ := testEngine(t, clock)

	e.SetChannelLevel(1, 2, 0.3)
	e.StartActivePolling(2)
	if got, _ := e.SetChannelLevel(1, 2, 0.4); got != 0.4 {
		t.Errorf("write after start = %v, want 0.4", got)
	}

	e.StopActivePolling(2)
	if got, _ := e.SetChannelLevel(1, 2, 0.5); got != 0.5 {
		t.Errorf("write after stop = %v, want 0.5", got)
	}
	if n := len(transport.GetWrites(channelLevelAddress(1, 2))); n != 3 {
		t.Errorf("writes = %d, want 3", n)
	}
}

func TestActivePollingSweepsBus(t *testing.T) {
	transport := NewMockTransport()
	e, err := NewEngine(Options{
		KeepAliveInterval:   time.Hour,
		GeneralPollInterval: time.Hour,
		ActivePollInterval:  10 * time.Millisecond,
		Dial: func(context.Context, TransportConfig) (Transport, error) {
			return transport, nil
		},
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if err := e.connect(context.Background()); err != nil {
		t.Fatalf("connect() error = %v", err)
	}
	defer e.Disconnect()

	waitFor(t, func() bool { return transport.CountRequests(channelLevelAddress(16, 6)) >= 1 })
	base := transport.CountRequests(channelLevelAddress(16, 4))

	e.StartActivePolling(4)
	waitFor(t, func() bool { return transport.CountRequests(channelLevelAddress(16, 4)) >= base+2 })

	if n := transport.CountRequests(channelLevelAddress(16, 5)); n != 1 {
		t.Errorf("bus 5 requests = %d, want only the general sweep", n)
	}
}

func TestActivePollingSurvivesReconnect(t *testing.T) {
	e, _, _ := testEngine(t, newFakeClock())
	e.StartActivePolling(1)

	if err := e.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if got := e.ActiveBuses(); len(got) != 1 {
		t.Errorf("ActiveBuses() after disconnect = %v", got)
	}

	e.opts.Dial = func(context.Context, TransportConfig) (Transport, error) {
		return NewMockTransport(), nil
	}
	if err := e.connect(context.Background()); err != nil {
		t.Fatalf("connect() error = %v", err)
	}
	e.mu.RLock()
	tk := e.activePolls[1]
	e.mu.RUnlock()
	if !tk.running() {
		t.Error("active poll not restarted on reconnect")
	}
}

func TestActivePollingWhileDisconnected(t *testing.T) {
	e, err := NewEngine(Options{})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if err := e.StartActivePolling(2); err != nil {
		t.Fatalf("StartActivePolling() error = %v", err)
	}
	if got := e.ActiveBuses(); len(got) != 1 || got[0] != 2 {
		t.Errorf("ActiveBuses() = %v", got)
	}
}

func TestShouldPollGraceWindow(t *testing.T) {
	clock := newFakeClock()
	e, transport, _ := testEngine(t, clock)
	waitFor(t, func() bool { return transport.CountRequests(busNameAddress(NumBuses)) >= 1 })
	logger := &testLogger{}
	e.SetLogger(logger)

	if !e.shouldPoll() {
		t.Fatal("shouldPoll false right after connect")
	}

	clock.Advance(DefaultGraceWindow + time.Second)
	if e.shouldPoll() {
		t.Fatal("shouldPoll true after silent grace window")
	}
	if e.shouldPoll() {
		t.Fatal("shouldPoll flipped back without traffic")
	}
	if logger.WarnCount() != 1 {
		t.Errorf("warnings = %d, want exactly 1", logger.WarnCount())
	}

	inbound(t, e, "/info", "V0.04")
	if !e.shouldPoll() {
		t.Error("inbound traffic did not re-arm polling")
	}
	if logger.WarnCount() != 1 {
		t.Errorf("warnings = %d after re-arm, want 1", logger.WarnCount())
	}
}

func TestGeneralPollSuspendedWhenSilent(t *testing.T) {
	clock := newFakeClock()
	e, transport, _ := testEngine(t, clock)

	waitFor(t, func() bool { return transport.CountRequests(busNameAddress(NumBuses)) >= 1 })
	before := transport.CountRequests(channelLevelAddress(1, 1))

	clock.Advance(DefaultGraceWindow * 2)
	e.pollAll(context.Background())

	if got := transport.CountRequests(channelLevelAddress(1, 1)); got != before {
		t.Errorf("requests = %d, want %d while suspended", got, before)
	}
}

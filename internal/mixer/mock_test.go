package mixer

import (
	"context"
	"sync"
	"testing"
	"time"
)

// MockTransport records sent datagrams and lets tests inject inbound ones.
type MockTransport struct {
	mu       sync.Mutex
	sent     []Message
	sendErr  error
	incoming chan []byte
	done     chan struct{}
	once     sync.Once
	closed   bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

func (m *MockTransport) Send(datagram []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrTransportClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	msg, err := Decode(datagram)
	if err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MockTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrTransportClosed
	case data := <-m.incoming:
		return data, nil
	}
}

func (m *MockTransport) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}

// SimulateInbound queues a datagram for the receive loop.
func (m *MockTransport) SimulateInbound(t *testing.T, address string, args ...any) {
	t.Helper()
	data, err := Encode(address, args...)
	if err != nil {
		t.Fatalf("encoding inbound %s: %v", address, err)
	}
	m.incoming <- data
}

// GetWrites returns messages sent to address that carry arguments.
func (m *MockTransport) GetWrites(address string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Message
	for _, msg := range m.sent {
		if msg.Address == address && len(msg.Arguments) > 0 {
			out = append(out, msg)
		}
	}
	return out
}

// CountRequests counts argument-less messages sent to address.
func (m *MockTransport) CountRequests(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, msg := range m.sent {
		if msg.Address == address && len(msg.Arguments) == 0 {
			n++
		}
	}
	return n
}

func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// droppingTransport reports a fixed receive-queue drop count.
type droppingTransport struct {
	*MockTransport
	dropped uint64
}

func (d *droppingTransport) Dropped() uint64 { return d.dropped }

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventRecorder collects change events.
type eventRecorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *eventRecorder) record(ev ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) Events() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeEvent(nil), r.events...)
}

// mockNameStore serves fixed custom names.
type mockNameStore struct {
	mu    sync.Mutex
	names map[NameKind][]CustomName
	err   error
}

func (s *mockNameStore) GetNames(_ context.Context, kind NameKind) ([]CustomName, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]CustomName(nil), s.names[kind]...), nil
}

// testLogger discards output but counts warnings.
type testLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *testLogger) Debug(string, ...any) {}
func (l *testLogger) Info(string, ...any)  {}
func (l *testLogger) Error(string, ...any) {}
func (l *testLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *testLogger) WarnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// testEngine builds a connected engine over a MockTransport with long poll
// intervals so only the immediate sweeps run.
func testEngine(t *testing.T, clock *fakeClock) (*Engine, *MockTransport, *eventRecorder) {
	t.Helper()

	transport := NewMockTransport()
	e, err := NewEngine(Options{
		Host:                "127.0.0.1",
		KeepAliveInterval:   time.Hour,
		GeneralPollInterval: time.Hour,
		ActivePollInterval:  time.Hour,
		SnapshotWait:        10 * time.Millisecond,
		RequestSpacing:      time.Microsecond,
		ResetStagger:        time.Microsecond,
		Dial: func(context.Context, TransportConfig) (Transport, error) {
			return transport, nil
		},
		Now:    clock.Now,
		Logger: &testLogger{},
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	rec := &eventRecorder{}
	e.RegisterChangeCallback(rec.record)

	if err := e.connect(context.Background()); err != nil {
		t.Fatalf("connect() error = %v", err)
	}
	t.Cleanup(func() { e.Disconnect() })

	return e, transport, rec
}

// inbound pushes a message straight through the router, bypassing the
// receive loop for deterministic ordering.
func inbound(t *testing.T, e *Engine, address string, args ...any) {
	t.Helper()
	data, err := Encode(address, args...)
	if err != nil {
		t.Fatalf("encoding %s: %v", address, err)
	}
	e.handleDatagram(data)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

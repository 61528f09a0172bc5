package relay

import (
	"sync"
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// mockPublisher implements MQTTClient for testing.
type mockPublisher struct {
	mu            sync.Mutex
	connected     bool
	messages      []publishedMessage
	subscriptions map[string]mqtt.MessageHandler
	publishErr    error
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{
		connected:     connected,
		subscriptions: make(map[string]mqtt.MessageHandler),
	}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.subscriptions[topic] = handler
	return nil
}

func (m *mockPublisher) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, topic)
	return nil
}

func (m *mockPublisher) handler(topic string) mqtt.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions[topic]
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

// mockEngine implements Engine for testing.
type mockEngine struct {
	mu       sync.Mutex
	stats    mixer.Stats
	listener mixer.ChangeListener
	writes   []levelWrite
	setErr   error
}

type levelWrite struct {
	channel, bus int
	level        float64
}

func (m *mockEngine) SetChannelLevel(channel, bus int, level float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return 0, m.setErr
	}
	m.writes = append(m.writes, levelWrite{channel: channel, bus: bus, level: level})
	return level, nil
}

func (m *mockEngine) Stats() mixer.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mockEngine) RegisterChangeCallback(fn mixer.ChangeListener) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

func (m *mockEngine) emit(ev mixer.ChangeEvent) {
	m.mu.Lock()
	fn := m.listener
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (m *mockEngine) getWrites() []levelWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]levelWrite(nil), m.writes...)
}

// mockInflux implements InfluxWriter for testing.
type mockInflux struct {
	mu     sync.Mutex
	levels []mixer.ChangeEvent
	stats  []map[string]any
}

func (m *mockInflux) WriteLevel(bus int, channel *int, level float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels = append(m.levels, mixer.ChangeEvent{Bus: bus, Channel: channel, Level: level, Timestamp: at})
}

func (m *mockInflux) WriteStats(fields map[string]any, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = append(m.stats, fields)
}

func (m *mockInflux) getLevels() []mixer.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mixer.ChangeEvent(nil), m.levels...)
}

func (m *mockInflux) getStats() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.stats...)
}

// recordingSink collects events.
type recordingSink struct {
	mu     sync.Mutex
	events []mixer.ChangeEvent
}

func (r *recordingSink) HandleChange(ev mixer.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) getEvents() []mixer.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mixer.ChangeEvent(nil), r.events...)
}

// nopLogger satisfies Logger.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func channelEvent(bus, channel int, level float64) mixer.ChangeEvent {
	return mixer.ChangeEvent{Bus: bus, Channel: &channel, Level: level, Timestamp: time.Now()}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// Publisher is the part of the MQTT client the relay publishes with.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// defaultQueueSize bounds the events waiting for the broker.
const defaultQueueSize = 256

// MQTTSink publishes every change as a retained StateMessage.
//
// HandleChange only enqueues. Run drains the queue, so a slow broker
// never stalls the engine. Events that find the queue full are dropped
// and counted.
type MQTTSink struct {
	publisher Publisher
	topics    mqtt.Topics
	qos       byte
	logger    Logger

	queue   chan mixer.ChangeEvent
	dropped atomic.Uint64
	failed  atomic.Uint64

	stopOnce sync.Once
	done     chan struct{}
}

// MQTTSinkConfig configures an MQTTSink.
type MQTTSinkConfig struct {
	Publisher Publisher
	Topics    mqtt.Topics
	QoS       byte

	// QueueSize defaults to 256.
	QueueSize int

	Logger Logger
}

// NewMQTTSink creates a sink. Call Run to start publishing.
func NewMQTTSink(cfg MQTTSinkConfig) *MQTTSink {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &MQTTSink{
		publisher: cfg.Publisher,
		topics:    cfg.Topics,
		qos:       cfg.QoS,
		logger:    cfg.Logger,
		queue:     make(chan mixer.ChangeEvent, size),
		done:      make(chan struct{}),
	}
}

// HandleChange queues ev for publishing.
func (s *MQTTSink) HandleChange(ev mixer.ChangeEvent) {
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Run publishes queued events until ctx is cancelled or Stop is called.
func (s *MQTTSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.queue:
			if err := s.publish(ev); err != nil {
				s.failed.Add(1)
				if s.logger != nil {
					s.logger.Debug("publishing level state failed", "bus", ev.Bus, "error", err)
				}
			}
		}
	}
}

// Stop ends Run. Queued events are discarded.
func (s *MQTTSink) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Dropped returns how many events were discarded because the queue was full.
func (s *MQTTSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Failed returns how many publishes returned an error.
func (s *MQTTSink) Failed() uint64 {
	return s.failed.Load()
}

func (s *MQTTSink) publish(ev mixer.ChangeEvent) error {
	if !s.publisher.IsConnected() {
		return mqtt.ErrNotConnected
	}
	payload, err := json.Marshal(NewStateMessage(ev))
	if err != nil {
		return err
	}
	return s.publisher.Publish(s.stateTopic(ev), payload, s.qos, true)
}

func (s *MQTTSink) stateTopic(ev mixer.ChangeEvent) string {
	if ev.Channel == nil {
		return s.topics.BusMasterState(ev.Bus)
	}
	return s.topics.BusChannelState(ev.Bus, *ev.Channel)
}

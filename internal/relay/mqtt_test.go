package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

func TestMQTTSinkPublishesRetainedState(t *testing.T) {
	pub := newMockPublisher(true)
	sink := NewMQTTSink(MQTTSinkConfig{Publisher: pub, Topics: mqtt.NewTopics("xrmonitor"), QoS: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.HandleChange(channelEvent(2, 5, 0.25))
	sink.HandleChange(mixer.ChangeEvent{Bus: 3, Level: 0.8})

	if !waitFor(func() bool { return len(pub.getMessages()) == 2 }) {
		t.Fatalf("published %d messages, want 2", len(pub.getMessages()))
	}
	msgs := pub.getMessages()

	tests := []struct {
		topic   string
		channel int // 0 for a master
		level   float64
	}{
		{"xrmonitor/state/bus/2/channel/5", 5, 0.25},
		{"xrmonitor/state/bus/3/master", 0, 0.8},
	}

	for i, tt := range tests {
		msg := msgs[i]
		if msg.topic != tt.topic {
			t.Errorf("message %d topic = %q, want %q", i, msg.topic, tt.topic)
		}
		if !msg.retained || msg.qos != 1 {
			t.Errorf("message %d retained=%v qos=%d", i, msg.retained, msg.qos)
		}

		var state StateMessage
		if err := json.Unmarshal(msg.payload, &state); err != nil {
			t.Fatalf("message %d payload: %v", i, err)
		}
		if state.Level != tt.level || state.Source != SourceMixer {
			t.Errorf("message %d state = %+v", i, state)
		}
		got := 0
		if state.Channel != nil {
			got = *state.Channel
		}
		if got != tt.channel {
			t.Errorf("message %d channel = %d, want %d", i, got, tt.channel)
		}
	}
}

func TestMQTTSinkDropsWhenQueueFull(t *testing.T) {
	pub := newMockPublisher(true)
	sink := NewMQTTSink(MQTTSinkConfig{Publisher: pub, Topics: mqtt.NewTopics(""), QueueSize: 2})

	for i := range 5 {
		sink.HandleChange(channelEvent(1, i+1, 0.5))
	}
	if got := sink.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestMQTTSinkCountsFailures(t *testing.T) {
	pub := newMockPublisher(false)
	sink := NewMQTTSink(MQTTSinkConfig{Publisher: pub, Topics: mqtt.NewTopics(""), Logger: nopLogger{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.HandleChange(channelEvent(1, 1, 0.5))
	if !waitFor(func() bool { return sink.Failed() == 1 }) {
		t.Errorf("Failed() = %d, want 1", sink.Failed())
	}
	if len(pub.getMessages()) != 0 {
		t.Error("published while disconnected")
	}
}

func TestMQTTSinkStop(t *testing.T) {
	sink := NewMQTTSink(MQTTSinkConfig{Publisher: newMockPublisher(true), Topics: mqtt.NewTopics("")})

	done := make(chan struct{})
	go func() {
		sink.Run(context.Background())
		close(done)
	}()

	sink.Stop()
	sink.Stop()
	if !waitFor(func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}) {
		t.Fatal("Run did not return after Stop")
	}
}

package relay

import (
	"errors"
	"testing"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

func TestCommandHandlerSubscribe(t *testing.T) {
	pub := newMockPublisher(true)
	topics := mqtt.NewTopics("xrmonitor")
	h := NewCommandHandler(pub, topics, &mockEngine{}, nopLogger{})

	if err := h.Subscribe(); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if pub.handler("xrmonitor/command/bus/+/channel/+") == nil {
		t.Fatal("wildcard command topic not subscribed")
	}

	if err := h.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error: %v", err)
	}
	if pub.handler("xrmonitor/command/bus/+/channel/+") != nil {
		t.Error("subscription still present after Unsubscribe")
	}

	offline := NewCommandHandler(newMockPublisher(false), topics, &mockEngine{}, nil)
	if err := offline.Subscribe(); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Subscribe() while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestCommandHandlerHandle(t *testing.T) {
	topics := mqtt.NewTopics("xrmonitor")

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
		want    *levelWrite
	}{
		{
			name:    "valid",
			topic:   "xrmonitor/command/bus/2/channel/7",
			payload: `{"level": 0.6, "source": "stage-panel"}`,
			want:    &levelWrite{channel: 7, bus: 2, level: 0.6},
		},
		{
			name:    "foreign topic",
			topic:   "other/command/bus/2/channel/7",
			payload: `{"level": 0.6}`,
			wantErr: ErrInvalidCommandTopic,
		},
		{
			name:    "master topic",
			topic:   "xrmonitor/command/bus/2/master",
			payload: `{"level": 0.6}`,
			wantErr: ErrInvalidCommandTopic,
		},
		{
			name:    "bad json",
			topic:   "xrmonitor/command/bus/2/channel/7",
			payload: `{level`,
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "missing level",
			topic:   "xrmonitor/command/bus/2/channel/7",
			payload: `{"source": "x"}`,
			wantErr: ErrInvalidCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &mockEngine{}
			h := NewCommandHandler(newMockPublisher(true), topics, engine, nopLogger{})

			err := h.Handle(tt.topic, []byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Handle() error = %v, want %v", err, tt.wantErr)
				}
				if len(engine.getWrites()) != 0 {
					t.Error("rejected command reached the engine")
				}
				return
			}
			if err != nil {
				t.Fatalf("Handle() error: %v", err)
			}
			writes := engine.getWrites()
			if len(writes) != 1 || writes[0] != *tt.want {
				t.Errorf("writes = %+v, want %+v", writes, *tt.want)
			}
		})
	}
}

func TestCommandHandlerEngineError(t *testing.T) {
	engine := &mockEngine{setErr: mixer.ErrNotConnected}
	h := NewCommandHandler(newMockPublisher(true), mqtt.NewTopics(""), engine, nil)

	err := h.Handle("xrmonitor/command/bus/1/channel/1", []byte(`{"level": 0.5}`))
	if !errors.Is(err, mixer.ErrNotConnected) {
		t.Errorf("Handle() error = %v, want ErrNotConnected", err)
	}
}

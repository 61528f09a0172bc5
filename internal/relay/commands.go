package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/mqtt"
)

// commandQoS is used for the command subscription.
const commandQoS = 1

var (
	// ErrInvalidCommandTopic is returned for a topic that is not a
	// channel command.
	ErrInvalidCommandTopic = errors.New("relay: invalid command topic")

	// ErrInvalidCommand is returned for a payload without a level.
	ErrInvalidCommand = errors.New("relay: invalid command payload")
)

// Subscriber is the part of the MQTT client used for commands.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// LevelSetter applies a send level.
type LevelSetter interface {
	SetChannelLevel(channel, bus int, level float64) (float64, error)
}

// CommandHandler turns MQTT level commands into engine writes. Accepted
// writes come back out through the change listener like any other.
type CommandHandler struct {
	subscriber Subscriber
	topics     mqtt.Topics
	mixer      LevelSetter
	logger     Logger
}

// NewCommandHandler creates a handler. Call Subscribe to start receiving.
func NewCommandHandler(subscriber Subscriber, topics mqtt.Topics, m LevelSetter, logger Logger) *CommandHandler {
	return &CommandHandler{
		subscriber: subscriber,
		topics:     topics,
		mixer:      m,
		logger:     logger,
	}
}

// Subscribe registers for every channel command topic.
func (h *CommandHandler) Subscribe() error {
	topic := h.topics.AllChannelCommands()
	if err := h.subscriber.Subscribe(topic, commandQoS, h.Handle); err != nil {
		return fmt.Errorf("subscribe to level commands: %w", err)
	}
	if h.logger != nil {
		h.logger.Info("subscribed to level commands", "topic", topic)
	}
	return nil
}

// Unsubscribe stops command delivery.
func (h *CommandHandler) Unsubscribe() error {
	return h.subscriber.Unsubscribe(h.topics.AllChannelCommands())
}

// Handle processes one command message. Errors are returned to the MQTT
// client, which logs them.
func (h *CommandHandler) Handle(topic string, payload []byte) error {
	bus, channel, ok := h.topics.ParseChannelCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidCommandTopic, topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.Level == nil {
		return fmt.Errorf("%w: level is required", ErrInvalidCommand)
	}

	accepted, err := h.mixer.SetChannelLevel(channel, bus, *cmd.Level)
	if err != nil {
		return fmt.Errorf("level command for bus %d channel %d: %w", bus, channel, err)
	}

	if h.logger != nil {
		h.logger.Debug("level command applied",
			"bus", bus, "channel", channel, "level", accepted, "source", cmd.Source)
	}
	return nil
}

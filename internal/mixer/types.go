package mixer

import "time"

// ChangeEvent reports a level that moved by more than NoiseThreshold.
// A nil Channel means the bus master changed.
type ChangeEvent struct {
	Bus       int       `json:"bus"`
	Channel   *int      `json:"channel"`
	Level     float64   `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// IsMaster reports whether the event is for a bus master fader.
func (e ChangeEvent) IsMaster() bool {
	return e.Channel == nil
}

// ChangeListener receives change events synchronously. It must not block.
type ChangeListener func(ChangeEvent)

func channelChange(bus, channel int, level float64, at time.Time) ChangeEvent {
	return ChangeEvent{Bus: bus, Channel: &channel, Level: level, Timestamp: at}
}

func masterChange(bus int, level float64, at time.Time) ChangeEvent {
	return ChangeEvent{Bus: bus, Level: level, Timestamp: at}
}

// ChannelSnapshot is one channel's send to a bus.
type ChannelSnapshot struct {
	Number int     `json:"number"`
	Name   string  `json:"name"`
	Level  float64 `json:"level"`
}

// BusSnapshot is the cached view of one bus.
type BusSnapshot struct {
	Bus         int               `json:"bus"`
	Name        string            `json:"name"`
	MasterLevel float64           `json:"master_level"`
	Channels    []ChannelSnapshot `json:"channels"`
}

// BusSummary is a bus without its channels.
type BusSummary struct {
	Bus         int     `json:"bus"`
	Name        string  `json:"name"`
	MasterLevel float64 `json:"master_level"`
}

// Stats holds engine counters.
type Stats struct {
	Connected       bool      `json:"connected"`
	ConnectedSince  time.Time `json:"connected_since,omitzero"`
	Polling         bool      `json:"polling"`
	ActiveBuses     []int     `json:"active_buses"`
	MessagesRx      uint64    `json:"messages_rx"`
	MessagesTx      uint64    `json:"messages_tx"`
	// MessagesDropped counts malformed datagrams and those the transport
	// discarded on a full receive queue.
	MessagesDropped uint64    `json:"messages_dropped"`
	SendErrors      uint64    `json:"send_errors"`
	WritesThrottled uint64    `json:"writes_throttled"`
	ChangesEmitted  uint64    `json:"changes_emitted"`
	LastActivity    time.Time `json:"last_activity,omitzero"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

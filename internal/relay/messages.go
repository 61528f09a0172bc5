package relay

import (
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// Source values for StateMessage.
const (
	SourceMixer = "mixer"
)

// StateMessage is the retained level published for one send or master.
// Topic: {prefix}/state/bus/{b}/channel/{c} or {prefix}/state/bus/{b}/master
type StateMessage struct {
	Bus int `json:"bus"`

	// Channel is nil for a bus master fader.
	Channel *int `json:"channel"`

	// Level is the normalised fader position, 0 to 1.
	Level float64 `json:"level"`

	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// NewStateMessage converts a change event.
func NewStateMessage(ev mixer.ChangeEvent) StateMessage {
	return StateMessage{
		Bus:       ev.Bus,
		Channel:   ev.Channel,
		Level:     ev.Level,
		Timestamp: ev.Timestamp.UTC(),
		Source:    SourceMixer,
	}
}

// CommandMessage asks for a send level change.
// Topic: {prefix}/command/bus/{b}/channel/{c}
type CommandMessage struct {
	Level *float64 `json:"level"`

	// Source names the sender, for logs only.
	Source string `json:"source,omitempty"`
}

// HealthStatus is the overall service status.
type HealthStatus string

const (
	// HealthHealthy means the mixer link and the broker are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means the mixer link is up but an optional
	// dependency is not.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy means the mixer is unreachable.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is published on a clean stop.
	HealthOffline HealthStatus = "offline"
)

// HealthMessage is published periodically.
// Topic: {prefix}/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Service       string       `json:"service"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Mixer         MixerStatus  `json:"mixer"`
	Reason        string       `json:"reason,omitempty"`
}

// MixerStatus is the engine part of a HealthMessage.
type MixerStatus struct {
	Connected      bool        `json:"connected"`
	ConnectedSince *time.Time  `json:"connected_since,omitempty"`
	ActiveBuses    []int       `json:"active_buses"`
	Statistics     mixer.Stats `json:"statistics"`
}

// ServiceName identifies this process in health messages.
const ServiceName = "xrmonitor"

// NewHealthMessage builds a health message from engine stats.
func NewHealthMessage(version string, status HealthStatus, stats mixer.Stats, startTime time.Time) HealthMessage {
	now := time.Now().UTC()
	msg := HealthMessage{
		Service:       ServiceName,
		Timestamp:     now,
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(now.Sub(startTime).Seconds()),
		Mixer: MixerStatus{
			Connected:   stats.Connected,
			ActiveBuses: stats.ActiveBuses,
			Statistics:  stats,
		},
	}
	if msg.Mixer.ActiveBuses == nil {
		msg.Mixer.ActiveBuses = []int{}
	}
	if stats.Connected && !stats.ConnectedSince.IsZero() {
		since := stats.ConnectedSince.UTC()
		msg.Mixer.ConnectedSince = &since
	}
	return msg
}

// NewOfflineMessage builds the final message published on stop.
func NewOfflineMessage(version string, startTime time.Time) HealthMessage {
	msg := NewHealthMessage(version, HealthOffline, mixer.Stats{}, startTime)
	msg.Reason = "shutdown"
	return msg
}

// statsFields flattens engine counters into InfluxDB fields.
func statsFields(stats mixer.Stats) map[string]any {
	return map[string]any{
		"connected":        stats.Connected,
		"active_buses":     len(stats.ActiveBuses),
		"messages_rx":      int64(stats.MessagesRx),      //nolint:gosec // counters stay far below int64 max
		"messages_tx":      int64(stats.MessagesTx),      //nolint:gosec // counters stay far below int64 max
		"messages_dropped": int64(stats.MessagesDropped), //nolint:gosec // counters stay far below int64 max
		"send_errors":      int64(stats.SendErrors),      //nolint:gosec // counters stay far below int64 max
		"writes_throttled": int64(stats.WritesThrottled), //nolint:gosec // counters stay far below int64 max
		"changes_emitted":  int64(stats.ChangesEmitted),  //nolint:gosec // counters stay far below int64 max
	}
}

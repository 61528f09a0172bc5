package relay

import (
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// LevelWriter is the part of the InfluxDB client used for level history.
// WriteLevel must queue without blocking.
type LevelWriter interface {
	WriteLevel(bus int, channel *int, level float64, at time.Time)
}

// InfluxSink records every change as a mixer_level point.
type InfluxSink struct {
	writer LevelWriter
}

// NewInfluxSink wraps writer.
func NewInfluxSink(writer LevelWriter) *InfluxSink {
	return &InfluxSink{writer: writer}
}

// HandleChange writes ev. Events without a timestamp are stamped now.
func (s *InfluxSink) HandleChange(ev mixer.ChangeEvent) {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	s.writer.WriteLevel(ev.Bus, ev.Channel, ev.Level, at)
}

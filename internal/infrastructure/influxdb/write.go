package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementLevel = "mixer_level"
	MeasurementStats = "mixer_stats"
)

// masterTag is the channel tag value for bus master faders.
const masterTag = "master"

// LevelPoint builds a mixer_level point. A nil channel marks the bus
// master.
func LevelPoint(bus int, channel *int, level float64, at time.Time) *write.Point {
	ch := masterTag
	if channel != nil {
		ch = strconv.Itoa(*channel)
	}
	return write.NewPoint(MeasurementLevel,
		map[string]string{
			"bus":     strconv.Itoa(bus),
			"channel": ch,
		},
		map[string]any{"level": level},
		at,
	)
}

// WriteLevel queues one level observation.
func (c *Client) WriteLevel(bus int, channel *int, level float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(LevelPoint(bus, channel, level, at))
}

// WriteStats queues a mixer_stats point with the given counter fields.
func (c *Client) WriteStats(fields map[string]any, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writer.WritePoint(write.NewPoint(MeasurementStats, nil, fields, at))
}

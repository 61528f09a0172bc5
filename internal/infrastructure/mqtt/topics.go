package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves it blank.
const DefaultTopicPrefix = "xrmonitor"

// Topics builds XR Monitor topic names under a prefix.
//
//	topics := mqtt.NewTopics("xrmonitor")
//	topics.BusChannelState(2, 5) // "xrmonitor/state/bus/2/channel/5"
type Topics struct {
	prefix string
}

// NewTopics returns builders for prefix, trimming slashes. An empty
// prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	return t.prefix
}

// BusChannelState is the retained state topic of one send level.
func (t Topics) BusChannelState(bus, channel int) string {
	return fmt.Sprintf("%s/state/bus/%d/channel/%d", t.prefix, bus, channel)
}

// BusMasterState is the retained state topic of a bus master fader.
func (t Topics) BusMasterState(bus int) string {
	return fmt.Sprintf("%s/state/bus/%d/master", t.prefix, bus)
}

// ChannelCommand is the inbound command topic for one send level.
func (t Topics) ChannelCommand(bus, channel int) string {
	return fmt.Sprintf("%s/command/bus/%d/channel/%d", t.prefix, bus, channel)
}

// AllChannelCommands matches every ChannelCommand topic.
func (t Topics) AllChannelCommands() string {
	return t.prefix + "/command/bus/+/channel/+"
}

// Health is the periodic health topic.
func (t Topics) Health() string {
	return t.prefix + "/health"
}

// SystemStatus carries online/offline status and the LWT.
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}

// ParseChannelCommand extracts bus and channel from a ChannelCommand
// topic. Range checks are left to the caller.
func (t Topics) ParseChannelCommand(topic string) (bus, channel int, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/command/bus/")
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "channel" {
		return 0, 0, false
	}
	bus, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	channel, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, false
	}
	return bus, channel, true
}

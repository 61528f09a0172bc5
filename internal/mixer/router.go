package mixer

import (
	"regexp"
	"strconv"
	"strings"
)

type routeKind int

const (
	routeIgnored routeKind = iota
	routeChannelLevel
	routeBusMaster
	routeChannelName
	routeBusName
	routeMeter
)

// Address shapes. Anchored so /bus/1/config/name can never be taken for a
// channel name and /ch/01/mix/fader never for a send level.
var (
	channelLevelPattern = regexp.MustCompile(`^/ch/(\d{1,2})/mix/(\d{1,2})/level$`)
	busMasterPattern    = regexp.MustCompile(`^/bus/(\d)/mix/fader$`)
	channelNamePattern  = regexp.MustCompile(`^/ch/(\d{1,2})/config/name$`)
	busNamePattern      = regexp.MustCompile(`^/bus/(\d)/config/name$`)
)

const meterAddress = "/meters"

// route is a classified address.
type route struct {
	kind    routeKind
	channel int
	bus     int
}

// classify matches an address against the known shapes. Identifiers out
// of range classify as routeIgnored.
func classify(address string) route {
	if m := channelLevelPattern.FindStringSubmatch(address); m != nil {
		ch, bus := atoi(m[1]), atoi(m[2])
		if validateCell(ch, bus) != nil {
			return route{}
		}
		return route{kind: routeChannelLevel, channel: ch, bus: bus}
	}
	if m := busMasterPattern.FindStringSubmatch(address); m != nil {
		bus := atoi(m[1])
		if ValidateBus(bus) != nil {
			return route{}
		}
		return route{kind: routeBusMaster, bus: bus}
	}
	if m := channelNamePattern.FindStringSubmatch(address); m != nil {
		ch := atoi(m[1])
		if ValidateChannel(ch) != nil {
			return route{}
		}
		return route{kind: routeChannelName, channel: ch}
	}
	if m := busNamePattern.FindStringSubmatch(address); m != nil {
		bus := atoi(m[1])
		if ValidateBus(bus) != nil {
			return route{}
		}
		return route{kind: routeBusName, bus: bus}
	}
	if address == meterAddress || strings.HasPrefix(address, meterAddress+"/") {
		return route{kind: routeMeter}
	}
	return route{}
}

// dispatch applies a decoded message to the cache.
func (e *Engine) dispatch(msg Message) {
	r := classify(msg.Address)

	switch r.kind {
	case routeChannelLevel:
		if level, ok := msg.Float(0); ok {
			e.applyChannelLevel(r.channel, r.bus, level)
		}
	case routeBusMaster:
		if level, ok := msg.Float(0); ok {
			e.applyMasterLevel(r.bus, level)
		}
	case routeChannelName:
		if name, ok := msg.String(0); ok && e.cache.SetDeviceName(NameKindChannel, r.channel, name) {
			e.logDebug("channel name from mixer", "channel", r.channel, "name", name)
		}
	case routeBusName:
		if name, ok := msg.String(0); ok && e.cache.SetDeviceName(NameKindBus, r.bus, name) {
			e.logDebug("bus name from mixer", "bus", r.bus, "name", name)
		}
	case routeMeter:
		e.dispatchMeter(msg)
	case routeIgnored:
	}
}

// dispatchMeter unwraps a meter envelope: (inner address, value). Only
// level and fader addresses are honoured inside an envelope.
func (e *Engine) dispatchMeter(msg Message) {
	if len(msg.Arguments) != 2 {
		return
	}
	inner, ok := msg.String(0)
	if !ok {
		return
	}
	level, ok := msg.Float(1)
	if !ok {
		return
	}

	switch r := classify(inner); r.kind {
	case routeChannelLevel:
		e.applyChannelLevel(r.channel, r.bus, level)
	case routeBusMaster:
		e.applyMasterLevel(r.bus, level)
	default:
	}
}

// applyChannelLevel caches an inbound send level and notifies on change.
func (e *Engine) applyChannelLevel(channel, bus int, level float64) {
	level = Clamp(level)
	previous := e.cache.SetLevel(channel, bus, level)
	if exceedsNoise(previous, level) {
		e.emit(channelChange(bus, channel, level, e.now()))
	}
}

// applyMasterLevel caches an inbound master level and notifies on change.
func (e *Engine) applyMasterLevel(bus int, level float64) {
	level = Clamp(level)
	previous := e.cache.SetMasterLevel(bus, level)
	if exceedsNoise(previous, level) {
		e.emit(masterChange(bus, level, e.now()))
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

package api

import "sync"

// Presence tracks which WebSocket clients are viewing which bus.
//
// onFirst runs when a bus gains its first viewer and onLast when it loses
// its last one. Both run with the presence lock held so polling start and
// stop for a bus are applied in the same order as the joins and leaves
// that caused them. They must not call back into Presence.
type Presence struct {
	mu      sync.Mutex
	viewers map[int]map[string]struct{}
	onFirst func(bus int)
	onLast  func(bus int)
}

// NewPresence creates a tracker. Either hook may be nil.
func NewPresence(onFirst, onLast func(bus int)) *Presence {
	return &Presence{
		viewers: make(map[int]map[string]struct{}),
		onFirst: onFirst,
		onLast:  onLast,
	}
}

// Join adds clientID to bus and returns the new viewer count. Joining
// twice is a no-op.
func (p *Presence) Join(bus int, clientID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.viewers[bus]
	if !ok {
		set = make(map[string]struct{})
		p.viewers[bus] = set
	}
	if _, dup := set[clientID]; dup {
		return len(set)
	}
	set[clientID] = struct{}{}
	if len(set) == 1 && p.onFirst != nil {
		p.onFirst(bus)
	}
	return len(set)
}

// Leave removes clientID from bus and returns the remaining count.
// Leaving a bus the client is not on changes nothing.
func (p *Presence) Leave(bus int, clientID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.viewers[bus]
	if !ok {
		return 0
	}
	if _, member := set[clientID]; !member {
		return len(set)
	}
	delete(set, clientID)
	if len(set) > 0 {
		return len(set)
	}
	delete(p.viewers, bus)
	if p.onLast != nil {
		p.onLast(bus)
	}
	return 0
}

// Count returns the viewers of bus.
func (p *Presence) Count(bus int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.viewers[bus])
}

// Buses returns every bus with at least one viewer mapped to its count.
func (p *Presence) Buses() map[int]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[int]int, len(p.viewers))
	for bus, set := range p.viewers {
		out[bus] = len(set)
	}
	return out
}

// startBusPolling and stopBusPolling are the Presence hooks.
func (s *Server) startBusPolling(bus int) {
	if err := s.mixer.StartActivePolling(bus); err != nil {
		s.logger.Warn("starting active polling failed", "bus", bus, "error", err)
		return
	}
	s.logger.Debug("bus has viewers, active polling on", "bus", bus)
}

func (s *Server) stopBusPolling(bus int) {
	if err := s.mixer.StopActivePolling(bus); err != nil {
		s.logger.Warn("stopping active polling failed", "bus", bus, "error", err)
		return
	}
	s.logger.Debug("bus has no viewers, active polling off", "bus", bus)
}

package api

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/audit"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// resetTimeout bounds a background mixer reset. Ninety-six staggered
// writes finish well inside it.
const resetTimeout = time.Minute

type busListItem struct {
	mixer.BusSummary
	Viewers int `json:"viewers"`
}

type levelRequest struct {
	Level *float64 `json:"level"`
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

type levelResponse struct {
	Bus     int     `json:"bus"`
	Channel *int    `json:"channel"`
	Level   float64 `json:"level"`
}

// handleListBuses returns the caller's buses from the cache. It sends
// nothing to the mixer.
func (s *Server) handleListBuses(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	items := make([]busListItem, 0, mixer.NumBuses)
	for _, b := range s.mixer.Buses() {
		if !id.canAccessBus(b.Bus) {
			continue
		}
		items = append(items, busListItem{BusSummary: b, Viewers: s.presence.Count(b.Bus)})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"buses":           items,
		"count":           len(items),
		"mixer_connected": s.mixer.IsConnected(),
	})
}

// handleGetBus refreshes and returns one bus.
func (s *Server) handleGetBus(w http.ResponseWriter, r *http.Request) {
	bus, _ := intParam(w, r, "bus") //nolint:errcheck // validated by busAccessMiddleware

	snap, err := s.mixer.GetBusSnapshot(r.Context(), bus)
	if err != nil {
		s.writeMixerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetChannelLevel writes a send level. The response carries the
// level the engine accepted, which differs from the request when it was
// clamped or throttled.
func (s *Server) handleSetChannelLevel(w http.ResponseWriter, r *http.Request) {
	bus, _ := intParam(w, r, "bus") //nolint:errcheck // validated by busAccessMiddleware
	channel, ok := intParam(w, r, "channel")
	if !ok {
		return
	}

	var req levelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Level == nil || math.IsNaN(*req.Level) || math.IsInf(*req.Level, 0) {
		writeValidationError(w, "level must be a number")
		return
	}

	level, err := s.mixer.SetChannelLevel(channel, bus, *req.Level)
	if err != nil {
		s.writeMixerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, levelResponse{Bus: bus, Channel: &channel, Level: level})
}

// handleSetChannelMute mutes or restores a send.
func (s *Server) handleSetChannelMute(w http.ResponseWriter, r *http.Request) {
	bus, _ := intParam(w, r, "bus") //nolint:errcheck // validated by busAccessMiddleware
	channel, ok := intParam(w, r, "channel")
	if !ok {
		return
	}

	var req muteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Muted == nil {
		writeValidationError(w, "muted is required")
		return
	}

	level, err := s.mixer.SetChannelMute(channel, bus, *req.Muted)
	if err != nil {
		s.writeMixerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, levelResponse{Bus: bus, Channel: &channel, Level: level})
}

// handleSetMasterLevel writes a bus master fader.
func (s *Server) handleSetMasterLevel(w http.ResponseWriter, r *http.Request) {
	bus, _ := intParam(w, r, "bus") //nolint:errcheck // validated by busAccessMiddleware

	var req levelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Level == nil || math.IsNaN(*req.Level) || math.IsInf(*req.Level, 0) {
		writeValidationError(w, "level must be a number")
		return
	}

	level, err := s.mixer.SetBusMasterLevel(bus, *req.Level)
	if err != nil {
		s.writeMixerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, levelResponse{Bus: bus, Level: level})
}

// handleMixerReset pulls every send to zero in the background and returns
// 202. A second request while a reset runs gets 409.
func (s *Server) handleMixerReset(w http.ResponseWriter, r *http.Request) {
	if !s.mixer.IsConnected() {
		s.writeMixerError(w, mixer.ErrNotConnected)
		return
	}
	if !s.resetting.CompareAndSwap(false, true) {
		writeConflict(w, "a reset is already running")
		return
	}

	caller := identityFromContext(r.Context())
	s.logger.Info("mixer reset requested", "user_id", caller.UserID)
	s.auditLog(audit.ActionReset, audit.EntityMixer, "", caller.UserID, nil)

	go func() {
		defer s.resetting.Store(false)

		ctx, cancel := context.WithTimeout(s.ctx, resetTimeout)
		defer cancel()
		if err := s.mixer.ResetAllToMinimum(ctx); err != nil {
			s.logger.Error("mixer reset failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "resetting"})
}

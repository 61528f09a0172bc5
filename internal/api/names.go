package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/xrmonitor-core/internal/audit"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
	"github.com/nerrad567/xrmonitor-core/internal/names"
)

// nameEntry describes one channel or bus name. Resolved is what clients
// display; it honours a name set on the console over the custom one.
type nameEntry struct {
	Kind       mixer.NameKind `json:"kind"`
	ID         int            `json:"id"`
	Default    string         `json:"default_name"`
	CustomName string         `json:"custom_name"`
	UseCustom  bool           `json:"use_custom"`
	Resolved   string         `json:"resolved_name"`
}

type setNameRequest struct {
	CustomName *string `json:"custom_name"`
	UseCustom  *bool   `json:"use_custom"`
}

// handleListNames returns every channel and bus with its stored and
// resolved names.
func (s *Server) handleListNames(w http.ResponseWriter, r *http.Request) {
	resp := make(map[string][]nameEntry, 2)
	for _, kind := range []mixer.NameKind{mixer.NameKindChannel, mixer.NameKindBus} {
		stored, err := s.names.GetNames(r.Context(), kind)
		if err != nil {
			s.logger.Error("listing names failed", "kind", kind, "error", err)
			writeInternalError(w, "failed to list names")
			return
		}
		byID := make(map[int]mixer.CustomName, len(stored))
		for _, n := range stored {
			byID[n.ID] = n
		}

		count := mixer.NumChannels
		if kind == mixer.NameKindBus {
			count = mixer.NumBuses
		}
		entries := make([]nameEntry, 0, count)
		for id := 1; id <= count; id++ {
			custom := byID[id]
			entries = append(entries, nameEntry{
				Kind:       kind,
				ID:         id,
				Default:    mixer.DefaultName(kind, id),
				CustomName: custom.CustomName,
				UseCustom:  custom.UseCustom,
				Resolved:   s.mixer.ResolveName(kind, id),
			})
		}
		resp[string(kind)+"s"] = entries
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSetName stores a custom name. With only use_custom it toggles an
// existing name; with custom_name it upserts, enabling it unless
// use_custom says otherwise.
func (s *Server) handleSetName(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := nameParams(w, r)
	if !ok {
		return
	}

	var req setNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.CustomName != nil:
		useCustom := req.UseCustom == nil || *req.UseCustom
		err = s.names.SetName(r.Context(), kind, id, *req.CustomName, useCustom)
	case req.UseCustom != nil:
		err = s.names.SetUseCustom(r.Context(), kind, id, *req.UseCustom)
	default:
		writeValidationError(w, "custom_name or use_custom is required")
		return
	}
	if err != nil {
		s.writeNameError(w, err)
		return
	}

	details := map[string]any{}
	if req.CustomName != nil {
		details["custom_name"] = *req.CustomName
	}
	if req.UseCustom != nil {
		details["use_custom"] = *req.UseCustom
	}
	s.auditLog(audit.ActionUpdate, audit.EntityName, nameEntityID(kind, id),
		identityFromContext(r.Context()).UserID, details)

	s.refreshNames(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":          kind,
		"id":            id,
		"resolved_name": s.mixer.ResolveName(kind, id),
	})
}

// handleDeleteName removes a custom name so the default shows again.
func (s *Server) handleDeleteName(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := nameParams(w, r)
	if !ok {
		return
	}

	if err := s.names.Delete(r.Context(), kind, id); err != nil {
		s.writeNameError(w, err)
		return
	}
	s.auditLog(audit.ActionDelete, audit.EntityName, nameEntityID(kind, id),
		identityFromContext(r.Context()).UserID, nil)

	s.refreshNames(r)
	w.WriteHeader(http.StatusNoContent)
}

// refreshNames pushes stored names into the engine. The write already
// succeeded, so a failure here is logged rather than returned.
func (s *Server) refreshNames(r *http.Request) {
	if err := s.mixer.RefreshNames(r.Context()); err != nil {
		s.logger.Warn("refreshing engine names failed", "error", err)
	}
}

// nameEntityID identifies a name in the audit trail, e.g. "bus/2".
func nameEntityID(kind mixer.NameKind, id int) string {
	return string(kind) + "/" + strconv.Itoa(id)
}

func nameParams(w http.ResponseWriter, r *http.Request) (mixer.NameKind, int, bool) {
	kind, err := mixer.ParseNameKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeValidationError(w, "kind must be channel or bus")
		return "", 0, false
	}
	id, ok := intParam(w, r, "id")
	if !ok {
		return "", 0, false
	}
	if err := kind.ValidateID(id); err != nil {
		writeValidationError(w, err.Error())
		return "", 0, false
	}
	return kind, id, true
}

func (s *Server) writeNameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, names.ErrNotFound):
		writeNotFound(w, "no custom name stored")
	case errors.Is(err, names.ErrInvalidID):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error("name update failed", "error", err)
		writeInternalError(w, "failed to update name")
	}
}

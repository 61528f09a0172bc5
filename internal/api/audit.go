package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
const auditChanSize = 256

// auditPruneInterval is how often entries past retention are removed.
const auditPruneInterval = 24 * time.Hour

// auditLog enqueues an entry for asynchronous write. When the channel is
// full the entry is dropped with a warning.
func (s *Server) auditLog(action, entityType, entityID, userID string, details map[string]any) {
	if s.audit == nil {
		return
	}

	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     "api",
		Details:    details,
		CreatedAt:  time.Now(),
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// drainAuditLog writes queued entries one at a time until ctx is
// cancelled, then flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	write := func(entry *audit.AuditLog) {
		if err := s.audit.Create(context.Background(), entry); err != nil {
			s.logger.Error("audit log write failed",
				"action", entry.Action,
				"entity_type", entry.EntityType,
				"error", err,
			)
		}
	}

	for {
		select {
		case entry := <-s.auditCh:
			write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					write(entry)
				default:
					return
				}
			}
		}
	}
}

// pruneAuditLoop deletes entries older than the retention window once at
// start and then daily.
func (s *Server) pruneAuditLoop(ctx context.Context) {
	if s.audit == nil || s.auditRetention <= 0 {
		return
	}

	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()

	for {
		n, err := s.audit.DeleteBefore(ctx, time.Now().Add(-s.auditRetention))
		switch {
		case err != nil:
			s.logger.Warn("pruning audit logs failed", "error", err)
		case n > 0:
			s.logger.Info("pruned audit logs", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleListAuditLogs returns a page of audit entries.
//
// Query parameters:
//   - action, entity_type, entity_id, user_id: exact-match filters
//   - since: RFC 3339 timestamp
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

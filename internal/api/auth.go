package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/audit"
	"github.com/nerrad567/xrmonitor-core/internal/auth"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	User        *auth.User `json:"user"`
	Buses       []int      `json:"buses"`
}

type meResponse struct {
	*auth.User
	Buses       []int             `json:"buses"`
	Permissions []auth.Permission `json:"permissions"`
}

// accessibleBuses is every bus number the identity may open.
func (id *identity) accessibleBuses() []int {
	all := make([]int, 0, mixer.NumBuses)
	for bus := 1; bus <= mixer.NumBuses; bus++ {
		all = append(all, bus)
	}
	return auth.AccessibleBuses(id.Role, id.Buses, all)
}

func (s *Server) tokenTTL() time.Duration {
	return time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
}

// handleLogin verifies credentials and returns a signed access token.
// Unknown users and wrong passwords get the same response.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	user, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		s.logger.Error("login lookup failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	var ok bool
	if user != nil {
		ok, err = auth.VerifyPassword(req.Password, user.PasswordHash)
		if err != nil {
			s.logger.Error("stored password hash unreadable", "user_id", user.ID, "error", err)
		}
	}
	if !ok {
		s.logger.Info("login rejected", "username", req.Username)
		s.auditLog(audit.ActionLoginFailed, audit.EntityUser, "", "", map[string]any{
			"username": req.Username,
		})
		writeUnauthorized(w, auth.ErrInvalidCredentials.Error())
		return
	}

	ttl := s.tokenTTL()
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	token, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("generating token failed", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	id, err := s.loadIdentity(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("loading bus grants failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.logger.Info("user logged in", "user_id", user.ID, "username", user.Username, "role", user.Role)
	s.auditLog(audit.ActionLogin, audit.EntityUser, user.ID, user.ID, nil)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
		User:        user,
		Buses:       id.accessibleBuses(),
	})
}

// handleMe returns the caller with their buses and permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	user, err := s.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w, "user no longer exists")
			return
		}
		s.logger.Error("loading caller failed", "error", err)
		writeInternalError(w, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:        user,
		Buses:       id.accessibleBuses(),
		Permissions: auth.PermissionsForRole(id.Role),
	})
}

// ticketStore holds single-use WebSocket tickets so browsers need not put
// the access token in the URL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
	now     func() time.Time
}

type ticketEntry struct {
	userID    string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry), now: time.Now}
}

// issue creates a ticket for userID.
func (t *ticketStore) issue(userID string) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{userID: userID, expiresAt: t.now().Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// redeem consumes a ticket and returns its user. Expired tickets are
// consumed too.
func (t *ticketStore) redeem(ticket string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return "", false
	}
	delete(t.tickets, ticket)
	if !t.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.userID, true
}

// purge drops expired tickets.
func (t *ticketStore) purge() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for ticket, entry := range t.tickets {
		if !now.Before(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// handleWSTicket issues a single-use ticket for GET /ws?ticket=.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(id.UserID),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read never fails on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop purges expired tickets until ctx is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.purge()
		}
	}
}

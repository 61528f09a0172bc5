package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/xrmonitor-core/internal/audit"
	"github.com/nerrad567/xrmonitor-core/internal/auth"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Username string    `json:"username"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
	Buses    []int     `json:"buses,omitempty"`
}

type updateUserRequest struct {
	Username *string    `json:"username,omitempty"`
	Role     *auth.Role `json:"role,omitempty"`
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

type setBusesRequest struct {
	Buses []int `json:"buses"`
}

// userView is a user with the buses they can open. Admins list every bus.
type userView struct {
	*auth.User
	Buses []int `json:"buses"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all accounts with their bus grants.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	views := make([]userView, 0, len(users))
	for i := range users {
		view, err := s.userView(r, &users[i])
		if err != nil {
			s.logger.Error("loading bus grants failed", "user_id", users[i].ID, "error", err)
			writeInternalError(w, "failed to list users")
			return
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": views,
		"count": len(views),
	})
}

// handleCreateUser creates an account and, for regular users, its grants.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Role == "" {
		req.Role = auth.RoleRegular
	}
	if !req.Role.IsValid() {
		writeValidationError(w, "role must be admin or regular")
		return
	}
	if !auth.IsValidUsername(req.Username) {
		writeValidationError(w, "username must be 1-64 letters, digits, dots, hyphens or underscores")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeValidationError(w, "password must be at least 8 characters")
		return
	}
	for _, bus := range req.Buses {
		if err := mixer.ValidateBus(bus); err != nil {
			writeValidationError(w, err.Error())
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{Username: req.Username, PasswordHash: hash, Role: req.Role}
	if err := s.users.Create(r.Context(), user); err != nil {
		s.writeUserError(w, err, "failed to create user")
		return
	}

	if req.Role == auth.RoleRegular && len(req.Buses) > 0 {
		if err := s.users.SetBuses(r.Context(), user.ID, req.Buses); err != nil {
			s.writeUserError(w, err, "user created but bus grants failed")
			return
		}
	}

	caller := identityFromContext(r.Context())
	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role, "created_by", caller.UserID)
	s.auditLog(audit.ActionCreate, audit.EntityUser, user.ID, caller.UserID, map[string]any{
		"username": user.Username,
		"role":     user.Role,
	})

	view, err := s.userView(r, user)
	if err != nil {
		s.writeUserError(w, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// handleUpdateUser renames an account or changes its role. Admins cannot
// demote themselves.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		s.writeUserError(w, err, "failed to load user")
		return
	}

	caller := identityFromContext(r.Context())
	if req.Role != nil {
		if !req.Role.IsValid() {
			writeValidationError(w, "role must be admin or regular")
			return
		}
		if userID == caller.UserID && *req.Role != user.Role {
			writeForbidden(w, auth.ErrSelfModification.Error())
			return
		}
		user.Role = *req.Role
	}
	if req.Username != nil {
		user.Username = *req.Username
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.writeUserError(w, err, "failed to update user")
		return
	}

	s.logger.Info("user updated", "user_id", user.ID, "updated_by", caller.UserID)
	s.auditLog(audit.ActionUpdate, audit.EntityUser, user.ID, caller.UserID, map[string]any{
		"username": user.Username,
		"role":     user.Role,
	})
	view, err := s.userView(r, user)
	if err != nil {
		s.writeUserError(w, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleDeleteUser removes an account. Deleting yourself is refused.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	caller := identityFromContext(r.Context())
	if userID == caller.UserID {
		writeBadRequest(w, "cannot delete your own account")
		return
	}

	if err := s.users.Delete(r.Context(), userID); err != nil {
		s.writeUserError(w, err, "failed to delete user")
		return
	}

	s.logger.Info("user deleted", "user_id", userID, "deleted_by", caller.UserID)
	s.auditLog(audit.ActionDelete, audit.EntityUser, userID, caller.UserID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword sets a new password for any account.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeValidationError(w, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}
	if err := s.users.UpdatePassword(r.Context(), userID, hash); err != nil {
		s.writeUserError(w, err, "failed to change password")
		return
	}

	callerID := identityFromContext(r.Context()).UserID
	s.logger.Info("password changed", "user_id", userID, "changed_by", callerID)
	s.auditLog(audit.ActionChangePassword, audit.EntityUser, userID, callerID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetUserBuses replaces a user's bus grants.
func (s *Server) handleSetUserBuses(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req setBusesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Buses == nil {
		writeValidationError(w, "buses is required")
		return
	}

	if err := s.users.SetBuses(r.Context(), userID, req.Buses); err != nil {
		s.writeUserError(w, err, "failed to set bus grants")
		return
	}

	buses, err := s.users.GetBuses(r.Context(), userID)
	if err != nil {
		s.writeUserError(w, err, "failed to load bus grants")
		return
	}
	callerID := identityFromContext(r.Context()).UserID
	s.logger.Info("bus grants changed", "user_id", userID, "buses", buses, "changed_by", callerID)
	s.auditLog(audit.ActionSetBuses, audit.EntityUser, userID, callerID, map[string]any{
		"buses": buses,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "buses": buses})
}

func (s *Server) userView(r *http.Request, user *auth.User) (userView, error) {
	id := &identity{UserID: user.ID, Role: user.Role}
	if !user.IsAdmin() {
		var err error
		if id.Buses, err = s.users.GetBuses(r.Context(), user.ID); err != nil {
			return userView{}, err
		}
	}
	return userView{User: user, Buses: id.accessibleBuses()}, nil
}

// writeUserError maps repository errors to responses.
func (s *Server) writeUserError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, auth.ErrUsernameExists):
		writeConflict(w, "username already exists")
	case errors.Is(err, auth.ErrInvalidUsername):
		writeValidationError(w, "username must be 1-64 letters, digits, dots, hyphens or underscores")
	case errors.Is(err, auth.ErrInvalidRole):
		writeValidationError(w, "role must be admin or regular")
	case errors.Is(err, mixer.ErrConstraintViolation):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// AdminUsername is the account created on first boot.
const AdminUsername = "admin"

const generatedPasswordBytes = 12

// SeedAdmin creates the admin account when the users table is empty.
// password is used when non-empty; otherwise a random one is generated
// and logged once so the operator can sign in. Returns the password in
// effect, or "" when seeding was skipped.
func SeedAdmin(ctx context.Context, repo UserRepository, password string, logger *slog.Logger) (string, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	generated := password == ""
	if generated {
		buf := make([]byte, generatedPasswordBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating admin password: %w", err)
		}
		password = hex.EncodeToString(buf)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing admin password: %w", err)
	}
	admin := &User{Username: AdminUsername, PasswordHash: hash, Role: RoleAdmin}
	if err := repo.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating admin: %w", err)
	}

	if generated {
		logger.Warn("admin account created with generated password",
			"username", AdminUsername,
			"password", password,
			"action_required", "change this password after first login",
		)
	} else {
		logger.Info("admin account created", "username", AdminUsername)
	}
	return password, nil
}

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/database"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// UserRepository defines user account and bus grant persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	GetBuses(ctx context.Context, userID string) ([]int, error)
	SetBuses(ctx context.Context, userID string, buses []int) error
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = "id, username, password_hash, role, created_at, updated_at"

// Create inserts user, generating its ID when empty.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if err := checkUser(user); err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	now := nowUTC()
	user.CreatedAt, user.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Username, user.PasswordHash, string(user.Role),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetByUsername retrieves a user by username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// List returns all users, oldest first. Never nil.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, username")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Update changes username and role.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	if err := checkUser(user); err != nil {
		return err
	}
	user.UpdatedAt = nowUTC()

	result, err := r.db.ExecContext(ctx,
		"UPDATE users SET username = ?, role = ?, updated_at = ? WHERE id = ?",
		user.Username, string(user.Role), formatTime(user.UpdatedAt), user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("updating user: %w", err)
	}
	return requireUserRow(result)
}

// UpdatePassword replaces the stored password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, formatTime(nowUTC()), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return requireUserRow(result)
}

// Delete removes a user. Bus grants go with it via ON DELETE CASCADE.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireUserRow(result)
}

// Count returns the number of accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// GetBuses returns the user's granted buses in ascending order. Never nil.
func (r *SQLiteUserRepository) GetBuses(ctx context.Context, userID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT bus_id FROM user_buses WHERE user_id = ? ORDER BY bus_id", userID)
	if err != nil {
		return nil, fmt.Errorf("listing bus grants: %w", err)
	}
	defer rows.Close()

	buses := []int{}
	for rows.Next() {
		var bus int
		if err := rows.Scan(&bus); err != nil {
			return nil, fmt.Errorf("scanning bus grant: %w", err)
		}
		buses = append(buses, bus)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bus grants: %w", err)
	}
	return buses, nil
}

// SetBuses replaces the user's bus grants atomically. Duplicates are
// collapsed; an out-of-range bus rejects the whole set.
func (r *SQLiteUserRepository) SetBuses(ctx context.Context, userID string, buses []int) error {
	for _, bus := range buses {
		if err := mixer.ValidateBus(bus); err != nil {
			return err
		}
	}
	buses = slices.Clone(buses)
	slices.Sort(buses)
	buses = slices.Compact(buses)

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", userID).Scan(&exists); err != nil {
			return fmt.Errorf("checking user: %w", err)
		}
		if exists == 0 {
			return ErrUserNotFound
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM user_buses WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("clearing bus grants: %w", err)
		}
		for _, bus := range buses {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO user_buses (user_id, bus_id) VALUES (?, ?)", userID, bus); err != nil {
				return fmt.Errorf("granting bus %d: %w", bus, err)
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*User, error) {
	var u User
	var role, createdAt, updatedAt string
	if err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Role = Role(role)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &u, nil
}

func checkUser(user *User) error {
	if !IsValidUsername(user.Username) {
		return ErrInvalidUsername
	}
	if !user.Role.IsValid() {
		return ErrInvalidRole
	}
	return nil
}

func requireUserRow(result sql.Result) error {
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// nowUTC truncates to the second so values round-trip through RFC 3339.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

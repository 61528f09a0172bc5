package names

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

var (
	// ErrNotFound is returned when no custom name row exists.
	ErrNotFound = errors.New("name not found")

	// ErrInvalidID is returned for an out-of-range bus or channel number.
	ErrInvalidID = errors.New("invalid name id")
)

// Repository manages custom names.
type Repository interface {
	mixer.NameStore
	SetName(ctx context.Context, kind mixer.NameKind, id int, name string, useCustom bool) error
	SetUseCustom(ctx context.Context, kind mixer.NameKind, id int, useCustom bool) error
	Delete(ctx context.Context, kind mixer.NameKind, id int) error
}

// SQLiteRepository implements Repository on the bus_names and
// channel_names tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a SQLite-backed names repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// table maps a kind to its table and key column. Both come from this
// switch, never from input.
func table(kind mixer.NameKind) (name, key string) {
	if kind == mixer.NameKindBus {
		return "bus_names", "bus_id"
	}
	return "channel_names", "channel_id"
}

func checkID(kind mixer.NameKind, id int) error {
	if err := kind.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %s %d", ErrInvalidID, kind, id)
	}
	return nil
}

// GetNames returns every stored name of the kind, ordered by id.
func (r *SQLiteRepository) GetNames(ctx context.Context, kind mixer.NameKind) ([]mixer.CustomName, error) {
	tbl, key := table(kind)
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+key+", custom_name, use_custom FROM "+tbl+" ORDER BY "+key) //nolint:gosec // identifiers are constants
	if err != nil {
		return nil, fmt.Errorf("listing %s names: %w", kind, err)
	}
	defer rows.Close()

	var names []mixer.CustomName
	for rows.Next() {
		var n mixer.CustomName
		var useCustom int
		if err := rows.Scan(&n.ID, &n.CustomName, &useCustom); err != nil {
			return nil, fmt.Errorf("scanning %s name: %w", kind, err)
		}
		n.UseCustom = useCustom != 0
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s names: %w", kind, err)
	}
	return names, nil
}

// SetName creates or replaces the custom name for id.
func (r *SQLiteRepository) SetName(ctx context.Context, kind mixer.NameKind, id int, name string, useCustom bool) error {
	if err := checkID(kind, id); err != nil {
		return err
	}
	tbl, key := table(kind)
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO "+tbl+" ("+key+", custom_name, use_custom, updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT("+key+") DO UPDATE SET custom_name = excluded.custom_name, "+
			"use_custom = excluded.use_custom, updated_at = excluded.updated_at",
		id, name, boolToInt(useCustom), r.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("saving %s %d name: %w", kind, id, err)
	}
	return nil
}

// SetUseCustom toggles whether an existing custom name is used.
func (r *SQLiteRepository) SetUseCustom(ctx context.Context, kind mixer.NameKind, id int, useCustom bool) error {
	if err := checkID(kind, id); err != nil {
		return err
	}
	tbl, key := table(kind)
	result, err := r.db.ExecContext(ctx,
		"UPDATE "+tbl+" SET use_custom = ?, updated_at = ? WHERE "+key+" = ?",
		boolToInt(useCustom), r.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("updating %s %d name: %w", kind, id, err)
	}
	return requireRow(result)
}

// Delete removes the custom name for id.
func (r *SQLiteRepository) Delete(ctx context.Context, kind mixer.NameKind, id int) error {
	if err := checkID(kind, id); err != nil {
		return err
	}
	tbl, key := table(kind)
	result, err := r.db.ExecContext(ctx, "DELETE FROM "+tbl+" WHERE "+key+" = ?", id)
	if err != nil {
		return fmt.Errorf("deleting %s %d name: %w", kind, id, err)
	}
	return requireRow(result)
}

func (r *SQLiteRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

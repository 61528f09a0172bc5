package auth

import (
	"errors"
	"slices"
	"testing"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := t.Context()

	user := seedTestUser(t, db, "drummer", RoleRegular)
	if user.ID == "" {
		t.Fatal("Create() should assign an ID")
	}

	byID, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Username != "drummer" || byID.Role != RoleRegular {
		t.Errorf("GetByID() = %+v", byID)
	}
	if byID.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	byName, err := repo.GetByUsername(ctx, "drummer")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if byName.ID != user.ID {
		t.Errorf("GetByUsername() ID = %q, want %q", byName.ID, user.ID)
	}

	if _, err := repo.GetByUsername(ctx, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByUsername(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_CreateValidation(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := t.Context()

	seedTestUser(t, db, "keys", RoleRegular)

	tests := []struct {
		name string
		user User
		want error
	}{
		{"duplicate username", User{Username: "keys", PasswordHash: "x", Role: RoleRegular}, ErrUsernameExists},
		{"bad username", User{Username: "has space", PasswordHash: "x", Role: RoleRegular}, ErrInvalidUsername},
		{"bad role", User{Username: "owner", PasswordHash: "x", Role: "owner"}, ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.user
			if err := repo.Create(ctx, &u); !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUserRepository_ListUpdateDelete(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := t.Context()

	a := seedTestUser(t, db, "alpha", RoleAdmin)
	b := seedTestUser(t, db, "bravo", RoleRegular)

	users, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("List() = %d users, want 2", len(users))
	}

	b.Role = RoleAdmin
	b.Username = "bravo2"
	if err := repo.Update(ctx, b); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, b.ID) //nolint:errcheck // asserted below
	if got == nil || got.Role != RoleAdmin || got.Username != "bravo2" {
		t.Errorf("after Update: %+v", got)
	}

	b.Username = "alpha"
	if err := repo.Update(ctx, b); !errors.Is(err, ErrUsernameExists) {
		t.Errorf("Update() to taken name error = %v, want ErrUsernameExists", err)
	}

	if err := repo.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, a.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("second Delete() error = %v, want ErrUserNotFound", err)
	}
	if n, _ := repo.Count(ctx); n != 1 { //nolint:errcheck // count asserted
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := t.Context()

	user := seedTestUser(t, db, "vocals", RoleRegular)

	hash, err := HashPassword("new-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if err := repo.UpdatePassword(ctx, user.ID, hash); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}
	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if ok, _ := VerifyPassword("new-password", got.PasswordHash); !ok { //nolint:errcheck // ok asserted
		t.Error("new password should verify")
	}

	if err := repo.UpdatePassword(ctx, "usr-missing", hash); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdatePassword(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_BusGrants(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := t.Context()

	user := seedTestUser(t, db, "guitar", RoleRegular)

	buses, err := repo.GetBuses(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetBuses() error = %v", err)
	}
	if len(buses) != 0 {
		t.Errorf("new user grants = %v, want none", buses)
	}

	if err := repo.SetBuses(ctx, user.ID, []int{3, 1, 3}); err != nil {
		t.Fatalf("SetBuses() error = %v", err)
	}
	buses, _ = repo.GetBuses(ctx, user.ID) //nolint:errcheck // asserted below
	if !slices.Equal(buses, []int{1, 3}) {
		t.Errorf("GetBuses() = %v, want [1 3]", buses)
	}

	// Replacement, not merge.
	if err := repo.SetBuses(ctx, user.ID, []int{6}); err != nil {
		t.Fatalf("SetBuses() replace error = %v", err)
	}
	buses, _ = repo.GetBuses(ctx, user.ID) //nolint:errcheck // asserted below
	if !slices.Equal(buses, []int{6}) {
		t.Errorf("GetBuses() after replace = %v, want [6]", buses)
	}

	// Invalid bus rejects the whole set and leaves grants alone.
	if err := repo.SetBuses(ctx, user.ID, []int{2, 7}); err == nil {
		t.Error("SetBuses() with bus 7 should fail")
	}
	buses, _ = repo.GetBuses(ctx, user.ID) //nolint:errcheck // asserted below
	if !slices.Equal(buses, []int{6}) {
		t.Errorf("grants changed by rejected SetBuses: %v", buses)
	}

	if err := repo.SetBuses(ctx, "usr-missing", []int{1}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetBuses(missing user) error = %v, want ErrUserNotFound", err)
	}

	// Deleting the user cascades to grants.
	if err := repo.Delete(ctx, user.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_buses").Scan(&n); err != nil {
		t.Fatalf("count grants: %v", err)
	}
	if n != 0 {
		t.Errorf("user_buses rows after delete = %d, want 0", n)
	}
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"clubgate.org/internal/auth"
)

func newMock(t *testing.T) (*CredentialStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCredentialStore(db), mock
}

func TestRefreshTokenConsume(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("delete from refresh_tokens where token_hash=.*returning user_id").
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "created_at"}).
			AddRow(int64(42), now.Add(time.Hour), now))

	rec, err := store.RefreshTokens().Consume(ctx, "abc123")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if rec.UserID != 42 {
		t.Fatalf("user = %d, want 42", rec.UserID)
	}

	mock.ExpectQuery("delete from refresh_tokens where token_hash=").
		WithArgs("abc123").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.RefreshTokens().Consume(ctx, "abc123"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("second consume: err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenSaveUpserts(t *testing.T) {
	store, mock := newMock(t)
	exp := time.Now().Add(7 * 24 * time.Hour)

	mock.ExpectExec("insert into refresh_tokens.*on conflict \\(user_id\\) do update").
		WithArgs(int64(42), "hash", exp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.RefreshTokens().Save(context.Background(), 42, "hash", exp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServiceKeyRotateAtomic(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	// Rotation is a single statement; no window without a current key.
	mock.ExpectExec("insert into auth_settings.*on conflict \\(id\\) do update.*previous_key = auth_settings.current_key").
		WithArgs("svc_new", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.ServiceKeys().Rotate(context.Background(), "svc_new", now); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	mock.ExpectQuery("select current_key, coalesce\\(previous_key,''\\), rotated_at").
		WillReturnRows(sqlmock.NewRows([]string{"current_key", "previous_key", "rotated_at"}).
			AddRow("svc_new", "svc_old", now))

	st, err := store.ServiceKeys().Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Current != "svc_new" || st.Previous != "svc_old" {
		t.Fatalf("unexpected state: %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServiceKeyGetEmpty(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select current_key").WillReturnError(sql.ErrNoRows)

	st, err := store.ServiceKeys().Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Current != "" {
		t.Fatalf("expected empty state, got %+v", st)
	}
}

func TestAPIKeyRevokeScoped(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	// Wrong owner matches no row.
	mock.ExpectExec("update api_keys set active=false").
		WithArgs("key-1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.APIKeys().Revoke(ctx, "key-1", 7); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("foreign revoke: err = %v, want ErrNotFound", err)
	}

	// Admin scope (owner 0) skips the ownership check.
	mock.ExpectExec("update api_keys set active=false").
		WithArgs("key-1", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.APIKeys().Revoke(ctx, "key-1", 0); err != nil {
		t.Fatalf("admin revoke: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyFindByKeyBadPermissionsColumn(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	// A permissions column that does not decode must surface as an error,
	// not as a key with silently empty permissions.
	mock.ExpectQuery("select id, key, secret_hash, name, permissions").
		WithArgs("ck_abc").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "key", "secret_hash", "name", "permissions", "owner_id", "expires_at", "active", "last_used_at", "created_at",
		}).AddRow("key-1", "ck_abc", "h", "ci", []byte("{broken"), int64(7), nil, true, nil, now))

	if _, err := store.APIKeys().FindByKey(context.Background(), "ck_abc"); err == nil {
		t.Fatal("expected decode error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserDirectoryFindLoadsRolesInOrder(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery("select id, username, email, password_hash, disabled, created_at.*from users where id=").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "disabled", "created_at"}).
			AddRow(int64(42), "maja", "maja@example.com", "x", false, now))
	mock.ExpectQuery("select role_slug from user_roles.*order by position asc").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"role_slug"}).
			AddRow("coach").AddRow("team-manager"))

	u, err := store.Users().Find(context.Background(), 42)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(u.Roles) != 2 || u.Roles[0] != "coach" || u.Roles[1] != "team-manager" {
		t.Fatalf("roles out of order: %v", u.Roles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

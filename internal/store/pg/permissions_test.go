package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"clubgate.org/internal/perm"
)

func newPermMock(t *testing.T) (*PermissionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPermissionStore(db), mock
}

func TestRolePermissionFind(t *testing.T) {
	store, mock := newPermMock(t)

	// A deny row comes back as a decision, distinct from no row at all.
	mock.ExpectQuery("select granted from role_permissions").
		WithArgs("coach", "inventory", "edit").
		WillReturnRows(sqlmock.NewRows([]string{"granted"}).AddRow(false))
	mock.ExpectQuery("select granted from role_permissions").
		WithArgs("coach", "inventory", "view").
		WillReturnError(sql.ErrNoRows)

	rp, err := store.RolePermissions().Find(context.Background(), "coach", "inventory", "edit")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rp.Granted {
		t.Fatal("deny row reported as granted")
	}
	if _, err := store.RolePermissions().Find(context.Background(), "coach", "inventory", "view"); !errors.Is(err, perm.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRolePermissionSetUpserts(t *testing.T) {
	store, mock := newPermMock(t)

	mock.ExpectExec("insert into role_permissions.*on conflict \\(role_slug, resource, permission\\) do update").
		WithArgs("coach", "inventory", "edit", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.RolePermissions().Set(context.Background(), "coach", "inventory", "edit", false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOverrideUpsertReportsExisted(t *testing.T) {
	store, mock := newPermMock(t)
	now := time.Now()
	ov := &perm.Override{
		UserID: 7, Resource: "document", Permission: "view",
		Granted: true, Reason: "helper", GrantedBy: 1, CreatedAt: now,
	}

	mock.ExpectQuery("select exists").
		WithArgs(int64(7), "document", "view").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("insert into user_permissions.*on conflict \\(user_id, resource, permission\\) do update").
		WithArgs(int64(7), "document", "view", true, "helper", int64(1), nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	existed, err := store.Overrides().Upsert(context.Background(), ov)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if existed {
		t.Fatal("fresh override reported as existing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOverrideFindMapsNotFound(t *testing.T) {
	store, mock := newPermMock(t)

	mock.ExpectQuery("select user_id, resource, permission").
		WithArgs(int64(7), "document", "view").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Overrides().Find(context.Background(), 7, "document", "view"); !errors.Is(err, perm.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOverrideDeleteExpired(t *testing.T) {
	store, mock := newPermMock(t)
	now := time.Now()

	mock.ExpectExec("delete from user_permissions.*expires_at <=").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Overrides().DeleteExpired(context.Background(), now)
	if err != nil || n != 3 {
		t.Fatalf("DeleteExpired = %d, %v", n, err)
	}
}

func TestAuditListPages(t *testing.T) {
	store, mock := newPermMock(t)
	now := time.Now()

	mock.ExpectQuery("from permission_audit_log.*order by created_at desc.*limit").
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "action", "actor_id", "target_id", "role_slug", "resource", "permission", "detail", "created_at",
		}).
			AddRow("a", perm.ActionOverrideGrant, int64(1), int64(7), "", "document", "view", "helper", now).
			AddRow("b", perm.ActionRoleGrant, int64(1), int64(0), "coach", "document", "view", "", now))

	entries, err := store.Audit().List(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[1].RoleSlug != "coach" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clubgate.org/internal/perm"
)

var _ perm.Store = (*PermissionStore)(nil)

// PermissionStore implements perm.Store on PostgreSQL.
type PermissionStore struct {
	db *sql.DB
}

func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

func (s *PermissionStore) RolePermissions() perm.RolePermissionStore { return &rolePermStore{db: s.db} }
func (s *PermissionStore) Overrides() perm.OverrideStore             { return &overrideStore{db: s.db} }
func (s *PermissionStore) Resources() perm.ResourceStore             { return &resourceStore{db: s.db} }
func (s *PermissionStore) Audit() perm.AuditStore                    { return &auditStore{db: s.db} }

// Role permissions ---------------------------------------------------------

type rolePermStore struct{ db *sql.DB }

func (s *rolePermStore) Find(ctx context.Context, roleSlug, resource, permission string) (*perm.RolePermission, error) {
	rp := perm.RolePermission{RoleSlug: roleSlug, Resource: resource, Permission: permission}
	err := s.db.QueryRowContext(ctx, `
		select granted from role_permissions
		where role_slug=$1 and resource=$2 and permission=$3
	`, roleSlug, resource, permission).Scan(&rp.Granted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perm.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rp, nil
}

func (s *rolePermStore) Set(ctx context.Context, roleSlug, resource, permission string, granted bool) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions(role_slug, resource, permission, granted)
		values ($1,$2,$3,$4)
		on conflict (role_slug, resource, permission) do update
		set granted = excluded.granted
	`, roleSlug, resource, permission, granted)
	return err
}

func (s *rolePermStore) ListByRole(ctx context.Context, roleSlug string) ([]perm.RolePermission, error) {
	return s.list(ctx, `
		select role_slug, resource, permission, granted from role_permissions
		where role_slug=$1 order by resource, permission
	`, roleSlug)
}

func (s *rolePermStore) ListAll(ctx context.Context) ([]perm.RolePermission, error) {
	return s.list(ctx, `
		select role_slug, resource, permission, granted from role_permissions
		order by role_slug, resource, permission
	`)
}

func (s *rolePermStore) list(ctx context.Context, query string, args ...any) ([]perm.RolePermission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []perm.RolePermission
	for rows.Next() {
		var rp perm.RolePermission
		if err := rows.Scan(&rp.RoleSlug, &rp.Resource, &rp.Permission, &rp.Granted); err != nil {
			return nil, err
		}
		res = append(res, rp)
	}
	return res, rows.Err()
}

// User overrides -----------------------------------------------------------

type overrideStore struct{ db *sql.DB }

func (s *overrideStore) Find(ctx context.Context, userID int64, resource, permission string) (*perm.Override, error) {
	var ov perm.Override
	err := s.db.QueryRowContext(ctx, `
		select user_id, resource, permission, granted, coalesce(reason,''), granted_by, expires_at, created_at
		from user_permissions
		where user_id=$1 and resource=$2 and permission=$3
	`, userID, resource, permission).Scan(&ov.UserID, &ov.Resource, &ov.Permission,
		&ov.Granted, &ov.Reason, &ov.GrantedBy, &ov.ExpiresAt, &ov.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perm.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ov, nil
}

func (s *overrideStore) Upsert(ctx context.Context, ov *perm.Override) (bool, error) {
	var existed bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from user_permissions
			where user_id=$1 and resource=$2 and permission=$3
		)
	`, ov.UserID, ov.Resource, ov.Permission).Scan(&existed)
	if err != nil {
		return false, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into user_permissions(user_id, resource, permission, granted, reason, granted_by, expires_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (user_id, resource, permission) do update
		set granted    = excluded.granted,
		    reason     = excluded.reason,
		    granted_by = excluded.granted_by,
		    expires_at = excluded.expires_at,
		    created_at = excluded.created_at
	`, ov.UserID, ov.Resource, ov.Permission, ov.Granted, ov.Reason, ov.GrantedBy, ov.ExpiresAt, ov.CreatedAt)
	return existed, err
}

func (s *overrideStore) Delete(ctx context.Context, userID int64, resource, permission string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_permissions
		where user_id=$1 and resource=$2 and permission=$3
	`, userID, resource, permission)
	return err
}

func (s *overrideStore) ListByUser(ctx context.Context, userID int64) ([]perm.Override, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, resource, permission, granted, coalesce(reason,''), granted_by, expires_at, created_at
		from user_permissions
		where user_id=$1 order by resource, permission
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []perm.Override
	for rows.Next() {
		var ov perm.Override
		if err := rows.Scan(&ov.UserID, &ov.Resource, &ov.Permission, &ov.Granted,
			&ov.Reason, &ov.GrantedBy, &ov.ExpiresAt, &ov.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ov)
	}
	return res, rows.Err()
}

func (s *overrideStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from user_permissions
		where expires_at is not null and expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Resource catalog ---------------------------------------------------------

type resourceStore struct{ db *sql.DB }

func (s *resourceStore) List(ctx context.Context) ([]perm.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		select slug, label, coalesce(description,'')
		from permission_resources order by slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []perm.Resource
	for rows.Next() {
		var r perm.Resource
		if err := rows.Scan(&r.Slug, &r.Label, &r.Description); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *resourceStore) Ensure(ctx context.Context, r perm.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permission_resources(slug, label, description)
		values ($1,$2,$3)
		on conflict (slug) do nothing
	`, r.Slug, r.Label, r.Description)
	return err
}

// Audit log ----------------------------------------------------------------

type auditStore struct{ db *sql.DB }

func (s *auditStore) Append(ctx context.Context, entry *perm.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permission_audit_log(id, action, actor_id, target_id, role_slug, resource, permission, detail, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.Action, entry.ActorID, entry.TargetID, entry.RoleSlug,
		entry.Resource, entry.Permission, entry.Detail, entry.CreatedAt)
	return err
}

func (s *auditStore) List(ctx context.Context, limit, offset int) ([]perm.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, action, actor_id, target_id, coalesce(role_slug,''), resource, permission, coalesce(detail,''), created_at
		from permission_audit_log
		order by created_at desc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []perm.AuditEntry
	for rows.Next() {
		var e perm.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.TargetID, &e.RoleSlug,
			&e.Resource, &e.Permission, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

package perm

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("perm: not found")

// RolePermissionStore persists the role permission matrix. A row is an
// explicit decision, granted or denied; a role with no row for a triple
// abstains and resolution moves on to the next role.
type RolePermissionStore interface {
	// Find returns the role's row for the triple, whatever its granted
	// value; ErrNotFound when the role has no row.
	Find(ctx context.Context, roleSlug, resource, permission string) (*RolePermission, error)
	// Set upserts the granted value for the triple.
	Set(ctx context.Context, roleSlug, resource, permission string, granted bool) error
	ListByRole(ctx context.Context, roleSlug string) ([]RolePermission, error)
	ListAll(ctx context.Context) ([]RolePermission, error)
}

// OverrideStore persists per-user exceptions.
type OverrideStore interface {
	// Find returns the override for the triple regardless of expiry; the
	// engine decides what an expired row means.
	Find(ctx context.Context, userID int64, resource, permission string) (*Override, error)
	// Upsert replaces any existing override for the same triple and
	// reports whether a row already existed.
	Upsert(ctx context.Context, ov *Override) (existed bool, err error)
	Delete(ctx context.Context, userID int64, resource, permission string) error
	ListByUser(ctx context.Context, userID int64) ([]Override, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResourceStore holds the catalog of protected resource types.
type ResourceStore interface {
	List(ctx context.Context) ([]Resource, error)
	Ensure(ctx context.Context, r Resource) error
}

// AuditStore appends and pages the permission change log.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, limit, offset int) ([]AuditEntry, error)
}

// Store bundles the persistence surfaces the engine needs.
type Store interface {
	RolePermissions() RolePermissionStore
	Overrides() OverrideStore
	Resources() ResourceStore
	Audit() AuditStore
}

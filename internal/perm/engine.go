package perm

import (
	"context"
	"errors"
	"time"

	"clubgate.org/internal/auth"
	"clubgate.org/internal/ids"
)

const adminRole = "administrator"

// Engine resolves permission checks in three tiers: per-user override,
// then the user's roles in attachment order where the first role holding a
// row decides with its granted value, then default deny. Administrators
// and service callers bypass resolution entirely.
type Engine struct {
	store Store
	cache *cache
	now   func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source used for override expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cache: newCache(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HasPermission reports whether the subject may perform permission on
// resource. Anonymous callers are always denied; service callers and
// administrators are always allowed. Resolved decisions for ordinary users
// are cached until a mutation invalidates them.
func (e *Engine) HasPermission(ctx context.Context, subject auth.Subject, resource, permission string) (bool, error) {
	if subject.IsAnonymous() {
		return false, nil
	}
	if subject.IsService() || subject.HasRole(adminRole) {
		return true, nil
	}
	if allowed, ok := e.cache.get(subject.UserID, resource, permission); ok {
		return allowed, nil
	}
	allowed, cacheable, err := e.resolve(ctx, subject, resource, permission)
	if err != nil {
		return false, err
	}
	if cacheable {
		e.cache.set(subject.UserID, resource, permission, allowed)
	}
	return allowed, nil
}

// resolve walks the tiers. Decisions backed by an override that carries an
// expiry are not cacheable; memoizing them would let a grant outlive its
// expiry.
func (e *Engine) resolve(ctx context.Context, subject auth.Subject, resource, permission string) (allowed, cacheable bool, err error) {
	ov, err := e.store.Overrides().Find(ctx, subject.UserID, resource, permission)
	switch {
	case err == nil:
		if ov.ExpiresAt == nil {
			return ov.Granted, true, nil
		}
		// An expired override is ignored and resolution continues with
		// the user's roles.
		if e.now().Before(*ov.ExpiresAt) {
			return ov.Granted, false, nil
		}
	case !errors.Is(err, ErrNotFound):
		return false, false, err
	}
	for _, role := range subject.Roles {
		rp, err := e.store.RolePermissions().Find(ctx, role, resource, permission)
		switch {
		case err == nil:
			// First role with a row decides, deny rows included.
			return rp.Granted, true, nil
		case !errors.Is(err, ErrNotFound):
			return false, false, err
		}
	}
	return false, true, nil
}

// UserPermissions resolves every verb on every cataloged resource for the
// subject, as consumed by settings screens.
func (e *Engine) UserPermissions(ctx context.Context, subject auth.Subject) (map[string]map[string]bool, error) {
	resources, err := e.store.Resources().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]bool, len(resources))
	for _, r := range resources {
		verbs := make(map[string]bool, 4)
		for _, v := range Verbs() {
			allowed, err := e.HasPermission(ctx, subject, r.Slug, v)
			if err != nil {
				return nil, err
			}
			verbs[v] = allowed
		}
		out[r.Slug] = verbs
	}
	return out, nil
}

// GrantOverride installs or replaces a per-user exception, drops the user's
// cached decisions, and appends an audit entry.
func (e *Engine) GrantOverride(ctx context.Context, actor auth.Subject, ov Override) error {
	ov.GrantedBy = actor.UserID
	ov.CreatedAt = e.now()
	existed, err := e.store.Overrides().Upsert(ctx, &ov)
	if err != nil {
		return err
	}
	e.cache.invalidateUser(ov.UserID)
	action := ActionOverrideGrant
	if existed {
		action = ActionOverrideUpdate
	}
	return e.store.Audit().Append(ctx, &AuditEntry{
		ID:         ids.New(),
		Action:     action,
		ActorID:    actor.UserID,
		TargetID:   ov.UserID,
		Resource:   ov.Resource,
		Permission: ov.Permission,
		Detail:     ov.Reason,
		CreatedAt:  ov.CreatedAt,
	})
}

// RevokeOverride deletes a per-user exception and drops the user's cached
// decisions. No audit entry is written for revocations.
func (e *Engine) RevokeOverride(ctx context.Context, userID int64, resource, permission string) error {
	if err := e.store.Overrides().Delete(ctx, userID, resource, permission); err != nil {
		return err
	}
	e.cache.invalidateUser(userID)
	return nil
}

// SetRolePermission records a role's decision for one verb on one
// resource. Setting allowed false writes an explicit deny row rather than
// removing the grant, so the deny participates in first-match resolution.
// Role changes affect an unknown set of users, so the whole cache is
// cleared.
func (e *Engine) SetRolePermission(ctx context.Context, actor auth.Subject, roleSlug, resource, permission string, allowed bool) error {
	action := ActionRoleGrant
	if !allowed {
		action = ActionRoleRevoke
	}
	if err := e.store.RolePermissions().Set(ctx, roleSlug, resource, permission, allowed); err != nil {
		return err
	}
	e.cache.clear()
	return e.store.Audit().Append(ctx, &AuditEntry{
		ID:         ids.New(),
		Action:     action,
		ActorID:    actor.UserID,
		RoleSlug:   roleSlug,
		Resource:   resource,
		Permission: permission,
		CreatedAt:  e.now(),
	})
}

// RoleMatrix returns every role grant, grouped by role slug.
func (e *Engine) RoleMatrix(ctx context.Context) (map[string][]RolePermission, error) {
	all, err := e.store.RolePermissions().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]RolePermission)
	for _, rp := range all {
		out[rp.RoleSlug] = append(out[rp.RoleSlug], rp)
	}
	return out, nil
}

func (e *Engine) Overrides(ctx context.Context, userID int64) ([]Override, error) {
	return e.store.Overrides().ListByUser(ctx, userID)
}

func (e *Engine) Resources(ctx context.Context) ([]Resource, error) {
	return e.store.Resources().List(ctx)
}

func (e *Engine) AuditLog(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.Audit().List(ctx, limit, offset)
}

// SweepExpiredOverrides removes overrides whose expiry has passed.
// Resolution already ignores them, so this only keeps the table small.
func (e *Engine) SweepExpiredOverrides(ctx context.Context) (int64, error) {
	return e.store.Overrides().DeleteExpired(ctx, e.now())
}

// InvalidateUser drops cached decisions for one user. Exposed for callers
// that change role membership outside this package.
func (e *Engine) InvalidateUser(userID int64) {
	e.cache.invalidateUser(userID)
}

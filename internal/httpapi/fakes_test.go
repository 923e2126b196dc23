package httpapi

import (
	"context"
	"fmt"
	"time"

	"clubgate.org/internal/auth"
	"clubgate.org/internal/perm"
)

// Test fixtures: map-backed stores, enough to drive the HTTP layer.

type fakeCreds struct {
	refresh map[string]*auth.RefreshTokenRecord
	svc     auth.ServiceKeyState
	keys    map[string]*auth.APIKey
	users   map[int64]*auth.User
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{
		refresh: make(map[string]*auth.RefreshTokenRecord),
		keys:    make(map[string]*auth.APIKey),
		users:   make(map[int64]*auth.User),
	}
}

func (f *fakeCreds) RefreshTokens() auth.RefreshTokenStore { return (*fakeRefresh)(f) }
func (f *fakeCreds) ServiceKeys() auth.ServiceKeyStore     { return (*fakeSvcKeys)(f) }
func (f *fakeCreds) APIKeys() auth.APIKeyStore             { return (*fakeAPIKeys)(f) }
func (f *fakeCreds) Users() auth.UserDirectory             { return (*fakeUsers)(f) }

type fakeRefresh fakeCreds

func (f *fakeRefresh) Save(_ context.Context, userID int64, hash string, exp time.Time) error {
	for h, rec := range f.refresh {
		if rec.UserID == userID {
			delete(f.refresh, h)
		}
	}
	f.refresh[hash] = &auth.RefreshTokenRecord{UserID: userID, TokenHash: hash, ExpiresAt: exp}
	return nil
}

func (f *fakeRefresh) Find(_ context.Context, hash string) (*auth.RefreshTokenRecord, error) {
	if rec, ok := f.refresh[hash]; ok {
		return rec, nil
	}
	return nil, auth.ErrNotFound
}

func (f *fakeRefresh) Consume(_ context.Context, hash string) (*auth.RefreshTokenRecord, error) {
	rec, ok := f.refresh[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	delete(f.refresh, hash)
	return rec, nil
}

func (f *fakeRefresh) Delete(_ context.Context, userID int64) error {
	for h, rec := range f.refresh {
		if rec.UserID == userID {
			delete(f.refresh, h)
		}
	}
	return nil
}

func (f *fakeRefresh) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for h, rec := range f.refresh {
		if !now.Before(rec.ExpiresAt) {
			delete(f.refresh, h)
			n++
		}
	}
	return n, nil
}

type fakeSvcKeys fakeCreds

func (f *fakeSvcKeys) Get(_ context.Context) (auth.ServiceKeyState, error) { return f.svc, nil }

func (f *fakeSvcKeys) Init(_ context.Context, key string, at time.Time) error {
	if f.svc.Current == "" {
		f.svc = auth.ServiceKeyState{Current: key, RotatedAt: at}
	}
	return nil
}

func (f *fakeSvcKeys) Rotate(_ context.Context, key string, at time.Time) error {
	f.svc = auth.ServiceKeyState{Current: key, Previous: f.svc.Current, RotatedAt: at}
	return nil
}

func (f *fakeSvcKeys) ClearPrevious(_ context.Context) error {
	f.svc.Previous = ""
	return nil
}

type fakeAPIKeys fakeCreds

func (f *fakeAPIKeys) Create(_ context.Context, rec *auth.APIKey) error {
	cp := *rec
	f.keys[rec.ID] = &cp
	return nil
}

func (f *fakeAPIKeys) FindByKey(_ context.Context, key string) (*auth.APIKey, error) {
	for _, rec := range f.keys {
		if rec.Key == key {
			return rec, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeAPIKeys) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	if rec, ok := f.keys[id]; ok {
		t := at
		rec.LastUsedAt = &t
	}
	return nil
}

func (f *fakeAPIKeys) Revoke(_ context.Context, id string, ownerID int64) error {
	rec, ok := f.keys[id]
	if !ok || (ownerID != 0 && rec.OwnerID != ownerID) {
		return auth.ErrNotFound
	}
	rec.Active = false
	return nil
}

func (f *fakeAPIKeys) Delete(_ context.Context, id string, ownerID int64) error {
	rec, ok := f.keys[id]
	if !ok || (ownerID != 0 && rec.OwnerID != ownerID) {
		return auth.ErrNotFound
	}
	delete(f.keys, id)
	return nil
}

func (f *fakeAPIKeys) ListByOwner(_ context.Context, ownerID int64) ([]*auth.APIKey, error) {
	var out []*auth.APIKey
	for _, rec := range f.keys {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeAPIKeys) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, rec := range f.keys {
		if rec.Active && rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt) {
			rec.Active = false
			n++
		}
	}
	return n, nil
}

type fakeUsers fakeCreds

func (f *fakeUsers) Find(_ context.Context, id int64) (*auth.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, auth.ErrNotFound
}

func (f *fakeUsers) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, auth.ErrNotFound
}

type fakePerm struct {
	roles     map[string]bool
	overrides map[string]*perm.Override
	resources []perm.Resource
	audit     []perm.AuditEntry
}

func newFakePerm() *fakePerm {
	return &fakePerm{
		roles:     make(map[string]bool),
		overrides: make(map[string]*perm.Override),
	}
}

func (f *fakePerm) RolePermissions() perm.RolePermissionStore { return (*fakeRoles)(f) }
func (f *fakePerm) Overrides() perm.OverrideStore             { return (*fakeOverrides)(f) }
func (f *fakePerm) Resources() perm.ResourceStore             { return (*fakeResources)(f) }
func (f *fakePerm) Audit() perm.AuditStore                    { return (*fakeAudit)(f) }

type fakeRoles fakePerm

func (f *fakeRoles) Find(_ context.Context, role, resource, permission string) (*perm.RolePermission, error) {
	granted, ok := f.roles[role+"|"+resource+"|"+permission]
	if !ok {
		return nil, perm.ErrNotFound
	}
	return &perm.RolePermission{RoleSlug: role, Resource: resource, Permission: permission, Granted: granted}, nil
}

func (f *fakeRoles) Set(_ context.Context, role, resource, permission string, granted bool) error {
	f.roles[role+"|"+resource+"|"+permission] = granted
	return nil
}

func (f *fakeRoles) ListByRole(_ context.Context, role string) ([]perm.RolePermission, error) {
	return nil, nil
}

func (f *fakeRoles) ListAll(_ context.Context) ([]perm.RolePermission, error) {
	return nil, nil
}

type fakeOverrides fakePerm

func overrideKey(userID int64, resource, permission string) string {
	return fmt.Sprintf("%d|%s|%s", userID, resource, permission)
}

func (f *fakeOverrides) Find(_ context.Context, userID int64, resource, permission string) (*perm.Override, error) {
	if ov, ok := f.overrides[overrideKey(userID, resource, permission)]; ok {
		return ov, nil
	}
	return nil, perm.ErrNotFound
}

func (f *fakeOverrides) Upsert(_ context.Context, ov *perm.Override) (bool, error) {
	k := overrideKey(ov.UserID, ov.Resource, ov.Permission)
	_, existed := f.overrides[k]
	cp := *ov
	f.overrides[k] = &cp
	return existed, nil
}

func (f *fakeOverrides) Delete(_ context.Context, userID int64, resource, permission string) error {
	delete(f.overrides, overrideKey(userID, resource, permission))
	return nil
}

func (f *fakeOverrides) ListByUser(_ context.Context, userID int64) ([]perm.Override, error) {
	var out []perm.Override
	for _, ov := range f.overrides {
		if ov.UserID == userID {
			out = append(out, *ov)
		}
	}
	return out, nil
}

func (f *fakeOverrides) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeResources fakePerm

func (f *fakeResources) List(_ context.Context) ([]perm.Resource, error) {
	return f.resources, nil
}

func (f *fakeResources) Ensure(_ context.Context, r perm.Resource) error {
	f.resources = append(f.resources, r)
	return nil
}

type fakeAudit fakePerm

func (f *fakeAudit) Append(_ context.Context, entry *perm.AuditEntry) error {
	f.audit = append(f.audit, *entry)
	return nil
}

func (f *fakeAudit) List(_ context.Context, limit, offset int) ([]perm.AuditEntry, error) {
	return f.audit, nil
}

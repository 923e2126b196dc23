package perm

import "time"

// Standard permission verbs. The resource catalog decides which resources
// exist; every resource supports the same four verbs.
const (
	PermView   = "view"
	PermCreate = "create"
	PermEdit   = "edit"
	PermDelete = "delete"
)

// Verbs lists the permission verbs in display order.
func Verbs() []string {
	return []string{PermView, PermCreate, PermEdit, PermDelete}
}

// Resource is a catalog entry naming a protected resource type.
type Resource struct {
	Slug        string `json:"slug"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// RolePermission is a role's decision for one verb on one resource.
// Granted false is an explicit deny: the first role in the user's
// attachment order that has a row decides, so a deny row on an earlier
// role masks a grant on a later one.
type RolePermission struct {
	RoleSlug   string `json:"role_slug"`
	Resource   string `json:"resource"`
	Permission string `json:"permission"`
	Granted    bool   `json:"granted"`
}

// Override is a per-user exception that takes precedence over role grants.
// Granted false is an explicit deny. A nil ExpiresAt never expires; an
// expired override is ignored during resolution and removed by the sweep.
type Override struct {
	UserID     int64      `json:"user_id"`
	Resource   string     `json:"resource"`
	Permission string     `json:"permission"`
	Granted    bool       `json:"granted"`
	Reason     string     `json:"reason,omitempty"`
	GrantedBy  int64      `json:"granted_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditEntry records a permission change. Override revocations are not
// audited; this mirrors the behavior administrators already rely on.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	ActorID    int64     `json:"actor_id"`
	TargetID   int64     `json:"target_id,omitempty"`
	RoleSlug   string    `json:"role_slug,omitempty"`
	Resource   string    `json:"resource"`
	Permission string    `json:"permission"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Audit actions.
const (
	ActionOverrideGrant  = "override_grant"
	ActionOverrideUpdate = "override_update"
	ActionRoleGrant      = "role_grant"
	ActionRoleRevoke     = "role_revoke"
)

package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"clubgate.org/internal/auth"
	"clubgate.org/internal/perm"
)

type checkRequest struct {
	Resource   string `json:"resource"`
	Permission string `json:"permission"`
	UserID     int64  `json:"user_id"`
}

type rolePermissionRequest struct {
	RoleSlug   string `json:"role_slug"`
	Resource   string `json:"resource"`
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

type overrideRequest struct {
	UserID        int64  `json:"user_id"`
	Resource      string `json:"resource"`
	Permission    string `json:"permission"`
	Granted       bool   `json:"granted"`
	Reason        string `json:"reason"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// handlePermissions returns the caller's full permission map over the
// resource catalog.
func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject := auth.SubjectFromContext(r.Context())
	perms, err := a.perm.UserPermissions(r.Context(), subject)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "permission resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// handlePermissionCheck answers a single allow/deny question. Admins and
// the service may ask on behalf of another user.
func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Resource = strings.TrimSpace(req.Resource)
	req.Permission = strings.TrimSpace(req.Permission)
	if req.Resource == "" || req.Permission == "" {
		writeError(w, r, http.StatusBadRequest, "resource and permission are required")
		return
	}

	subject := auth.SubjectFromContext(r.Context())
	if req.UserID != 0 && req.UserID != subject.UserID {
		if !subject.IsService() && !subject.HasRole("administrator") {
			writeError(w, r, http.StatusForbidden, "insufficient permissions")
			return
		}
		user, err := a.auth.User(r.Context(), req.UserID)
		if err != nil {
			writeError(w, r, http.StatusNotFound, "user not found")
			return
		}
		subject = auth.UserSubject(user.ID, user.Username, user.Roles)
	}

	allowed, err := a.perm.HasPermission(r.Context(), subject, req.Resource, req.Permission)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "permission check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (a *API) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	resources, err := a.perm.Resources(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "listing resources failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensureAdmin(w, r) {
			return
		}
		matrix, err := a.perm.RoleMatrix(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "listing role permissions failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": matrix})
	case http.MethodPut:
		if !a.ensureAdmin(w, r) {
			return
		}
		var req rolePermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.RoleSlug == "" || req.Resource == "" || req.Permission == "" {
			writeError(w, r, http.StatusBadRequest, "role_slug, resource and permission are required")
			return
		}
		actor := auth.SubjectFromContext(r.Context())
		if err := a.perm.SetRolePermission(r.Context(), actor, req.RoleSlug, req.Resource, req.Permission, req.Allowed); err != nil {
			writeError(w, r, http.StatusInternalServerError, "updating role permission failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleOverrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listOverrides(w, r)
	case http.MethodPost:
		a.grantOverride(w, r)
	case http.MethodDelete:
		a.revokeOverride(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) listOverrides(w http.ResponseWriter, r *http.Request) {
	if !a.ensureAdmin(w, r) {
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, r, http.StatusBadRequest, "valid user_id is required")
		return
	}
	overrides, err := a.perm.Overrides(r.Context(), userID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "listing overrides failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

func (a *API) grantOverride(w http.ResponseWriter, r *http.Request) {
	if !a.ensureAdmin(w, r) {
		return
	}
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID <= 0 || req.Resource == "" || req.Permission == "" {
		writeError(w, r, http.StatusBadRequest, "user_id, resource and permission are required")
		return
	}

	ov := perm.Override{
		UserID:     req.UserID,
		Resource:   req.Resource,
		Permission: req.Permission,
		Granted:    req.Granted,
		Reason:     req.Reason,
	}
	if req.ExpiresInDays > 0 {
		t := time.Now().UTC().Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour)
		ov.ExpiresAt = &t
	}

	actor := auth.SubjectFromContext(r.Context())
	if err := a.perm.GrantOverride(r.Context(), actor, ov); err != nil {
		writeError(w, r, http.StatusInternalServerError, "granting override failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokeOverride(w http.ResponseWriter, r *http.Request) {
	if !a.ensureAdmin(w, r) {
		return
	}
	q := r.URL.Query()
	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	resource := strings.TrimSpace(q.Get("resource"))
	permission := strings.TrimSpace(q.Get("permission"))
	if err != nil || userID <= 0 || resource == "" || permission == "" {
		writeError(w, r, http.StatusBadRequest, "user_id, resource and permission are required")
		return
	}
	if err := a.perm.RevokeOverride(r.Context(), userID, resource, permission); err != nil {
		writeError(w, r, http.StatusInternalServerError, "revoking override failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensureAdmin(w, r) {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	entries, err := a.perm.AuditLog(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "reading audit log failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

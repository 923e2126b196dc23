package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clubgate.org/internal/audit"
	"clubgate.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type createKeyRequest struct {
	Name          string   `json:"name"`
	Permissions   []string `json:"permissions"`
	ExpiresInDays int      `json:"expires_in_days"`
	OwnerID       int64    `json:"owner_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	pair, user, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.auth.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject := auth.SubjectFromContext(r.Context())
	if !subject.IsUser() {
		writeError(w, r, http.StatusBadRequest, "logout requires a user session")
		return
	}
	if err := a.auth.RevokeRefreshToken(r.Context(), subject.UserID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listKeys(w, r)
	case http.MethodPost:
		a.createKey(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listKeys(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	ownerID := subject.UserID

	// Admins and the service may inspect another user's keys.
	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid owner_id")
			return
		}
		if id != subject.UserID && !subject.IsService() && !subject.HasRole("administrator") {
			writeError(w, r, http.StatusForbidden, "insufficient permissions")
			return
		}
		ownerID = id
	}
	if ownerID == 0 {
		writeError(w, r, http.StatusBadRequest, "owner_id is required")
		return
	}

	keys, err := a.auth.ListAPIKeys(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "listing keys failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (a *API) createKey(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())

	var req createKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	ownerID := subject.UserID
	if req.OwnerID != 0 && req.OwnerID != subject.UserID {
		if !subject.IsService() && !subject.HasRole("administrator") {
			writeError(w, r, http.StatusForbidden, "insufficient permissions")
			return
		}
		ownerID = req.OwnerID
	}
	if ownerID == 0 {
		writeError(w, r, http.StatusBadRequest, "owner_id is required")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		t := time.Now().UTC().Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	creds, err := a.auth.CreateAPIKey(r.Context(), ownerID, req.Name, req.Permissions, expiresAt)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "key creation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.api_key.created", map[string]any{
		"key_id":   creds.ID,
		"owner_id": ownerID,
		"name":     req.Name,
	})
	// The secret appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, creds)
}

func (a *API) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/auth/keys/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	subject := auth.SubjectFromContext(r.Context())

	var err error
	event := "auth.api_key.revoked"
	if r.URL.Query().Get("purge") == "true" {
		event = "auth.api_key.deleted"
		err = a.auth.DeleteAPIKey(r.Context(), id, subject)
	} else {
		err = a.auth.RevokeAPIKey(r.Context(), id, subject)
	}
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "key not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "key removal failed")
		return
	}

	_ = audit.LogEvent(r.Context(), event, map[string]any{"key_id": id})
	w.WriteHeader(http.StatusNoContent)
}

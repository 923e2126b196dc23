package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"clubgate.org/internal/auth"
)

const (
	authHeader   = "Authorization"
	apiKeyHeader = "X-API-Key"
	bearer       = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
}

// withAuth resolves the caller identity for every protected route. The
// X-API-Key header is checked first: a value matching the service key makes
// the caller the service; otherwise the same value is tried as a per-user
// API key. Only when the header is absent is the Authorization bearer token
// consulted.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		subject, ok := a.authenticate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithSubject(r.Context(), subject)))
	})
}

func (a *API) authenticate(w http.ResponseWriter, r *http.Request) (auth.Subject, bool) {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		isService, err := a.auth.ValidateServiceKey(r.Context(), key)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return auth.Subject{}, false
		}
		if isService {
			return auth.ServiceSubject(), true
		}
		rec, err := a.auth.AuthenticateAPIKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				writeError(w, r, http.StatusUnauthorized, "invalid api key")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return auth.Subject{}, false
		}
		user, err := a.auth.User(r.Context(), rec.OwnerID)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, "invalid api key")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return auth.Subject{}, false
		}
		return auth.UserSubject(user.ID, user.Username, user.Roles), true
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="clubgate"`)
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return auth.Subject{}, false
	}
	claims, ok := a.auth.ValidateToken(token)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="clubgate", error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return auth.Subject{}, false
	}
	return subjectFromClaims(claims), true
}

// subjectFromClaims rebuilds the caller identity from a validated token
// payload. Numeric claims arrive as float64 from JSON decoding.
func subjectFromClaims(claims map[string]any) auth.Subject {
	var userID int64
	if v, ok := claims["user_id"].(float64); ok {
		userID = int64(v)
	}
	username, _ := claims["username"].(string)
	var roles []string
	if raw, ok := claims["roles"].([]any); ok {
		for _, v := range raw {
			if role, ok := v.(string); ok {
				roles = append(roles, role)
			}
		}
	}
	return auth.UserSubject(userID, username, roles)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing credentials")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

package auth

import "time"

// User is the directory record the auth core reads. Role order is the order
// roles were attached to the user; permission resolution depends on it.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenGrant is the result of issuing a bearer token.
type TokenGrant struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenPair carries a fresh bearer token plus the single-use refresh token
// that can later replace it.
type TokenPair struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RefreshTokenRecord is the persisted form of a refresh token: only the
// keyed hash is stored, never the raw value. One record per user.
type RefreshTokenRecord struct {
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ServiceKeyState holds the service API key pair. During the grace window
// after a rotation both Current and Previous validate; outside it only
// Current does.
type ServiceKeyState struct {
	Current   string
	Previous  string
	RotatedAt time.Time
}

// APIKey is a per-user named credential record. The secret is stored hashed;
// the plaintext secret is returned exactly once at creation.
type APIKey struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	SecretHash  string     `json:"-"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions,omitempty"`
	OwnerID     int64      `json:"owner_id"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      bool       `json:"active"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// APIKeyCredentials is the one-time creation response. Neither value can be
// recovered afterwards.
type APIKeyCredentials struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

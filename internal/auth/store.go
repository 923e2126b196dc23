package auth

import (
	"context"
	"time"
)

// RefreshTokenStore persists refresh-token hashes, one row per user.
// Implementations return ErrNotFound when a hash has no row.
type RefreshTokenStore interface {
	// Save upserts the user's refresh token, replacing any prior one.
	Save(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	Find(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)
	// Consume atomically deletes the row matching tokenHash and returns it.
	// A second call with the same hash returns ErrNotFound; this is what
	// makes refresh tokens single-use under concurrency.
	Consume(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)
	Delete(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ServiceKeyStore persists the service API key pair.
type ServiceKeyStore interface {
	Get(ctx context.Context) (ServiceKeyState, error)
	// Init sets the current key only when none exists yet. Concurrent
	// initializers race safely; callers re-read after Init.
	Init(ctx context.Context, key string, rotatedAt time.Time) error
	// Rotate atomically moves current to previous and installs the new key.
	// At no point is the store left without a current key.
	Rotate(ctx context.Context, newKey string, rotatedAt time.Time) error
	ClearPrevious(ctx context.Context) error
}

// APIKeyStore persists per-user API keys.
type APIKeyStore interface {
	Create(ctx context.Context, rec *APIKey) error
	FindByKey(ctx context.Context, key string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	// Revoke deactivates the key. When ownerID is nonzero the key must
	// belong to that owner; zero skips the ownership check.
	Revoke(ctx context.Context, id string, ownerID int64) error
	Delete(ctx context.Context, id string, ownerID int64) error
	ListByOwner(ctx context.Context, ownerID int64) ([]*APIKey, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// UserDirectory resolves users for token issuance and login.
type UserDirectory interface {
	Find(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// CredentialStore bundles the persistence surfaces the auth service needs.
type CredentialStore interface {
	RefreshTokens() RefreshTokenStore
	ServiceKeys() ServiceKeyStore
	APIKeys() APIKeyStore
	Users() UserDirectory
}

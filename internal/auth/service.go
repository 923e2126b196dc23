package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clubgate.org/internal/ids"
	"clubgate.org/internal/obs"
	"clubgate.org/internal/token"
)

const (
	defaultIssuer           = "clubgate"
	defaultTokenTTL         = 15 * time.Minute
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultRotationInterval = 30 * 24 * time.Hour
	defaultGracePeriod      = 24 * time.Hour

	servicePrefix = "svc_"
)

// Service implements credential issuance and validation: bearer tokens,
// single-use refresh tokens, the service API key pair, and per-user API
// keys.
type Service struct {
	store  CredentialStore
	codec  *token.Codec
	secret []byte

	issuer           string
	tokenTTL         time.Duration
	refreshTTL       time.Duration
	rotationInterval time.Duration
	gracePeriod      time.Duration

	now func() time.Time
}

type Option func(*Service)

func WithIssuer(iss string) Option {
	return func(s *Service) { s.issuer = iss }
}

func WithTokenTTL(d time.Duration) Option {
	return func(s *Service) { s.tokenTTL = d }
}

func WithRefreshTTL(d time.Duration) Option {
	return func(s *Service) { s.refreshTTL = d }
}

func WithRotationInterval(d time.Duration) Option {
	return func(s *Service) { s.rotationInterval = d }
}

func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) { s.gracePeriod = d }
}

// WithClock overrides the time source. Tests use this to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.codec = token.NewCodec(token.WithClock(now))
	}
}

func NewService(store CredentialStore, secret []byte, opts ...Option) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &Service{
		store:            store,
		codec:            token.NewCodec(),
		secret:           secret,
		issuer:           defaultIssuer,
		tokenTTL:         defaultTokenTTL,
		refreshTTL:       defaultRefreshTTL,
		rotationInterval: defaultRotationInterval,
		gracePeriod:      defaultGracePeriod,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueToken mints a signed bearer token for the user. Entries in custom
// are merged into the payload and may shadow the standard claims.
func (s *Service) IssueToken(user *User, custom map[string]any) (TokenGrant, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)
	claims := map[string]any{
		"iss":      s.issuer,
		"jti":      uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      exp.Unix(),
		"user_id":  user.ID,
		"username": user.Username,
		"email":    user.Email,
		"roles":    user.Roles,
	}
	for k, v := range custom {
		claims[k] = v
	}
	tok, err := s.codec.Encode(claims, s.secret)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("issue token: %w", err)
	}
	return TokenGrant{
		Token:     tok,
		ExpiresIn: int64(s.tokenTTL.Seconds()),
		ExpiresAt: exp,
	}, nil
}

// ValidateToken verifies a bearer token and returns its payload. Expired
// and malformed tokens are indistinguishable to the caller; both report
// not-ok.
func (s *Service) ValidateToken(tok string) (map[string]any, bool) {
	claims, err := s.codec.Decode(tok, s.secret)
	switch {
	case err == nil:
		obs.ObserveTokenValidation("ok")
		return claims, true
	case errors.Is(err, token.ErrTokenExpired):
		obs.ObserveTokenValidation("expired")
	default:
		obs.ObserveTokenValidation("invalid")
	}
	return nil, false
}

// IssueRefreshToken generates a fresh refresh token for the user and
// persists its keyed hash, replacing any earlier token. The raw value is
// returned to the caller and never stored.
func (s *Service) IssueRefreshToken(ctx context.Context, userID int64) (string, error) {
	raw, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("issue refresh token: %w", err)
	}
	expires := s.now().Add(s.refreshTTL)
	if err := s.store.RefreshTokens().Save(ctx, userID, s.keyedHash(raw), expires); err != nil {
		return "", fmt.Errorf("issue refresh token: %w", err)
	}
	return raw, nil
}

// ValidateRefreshToken checks a refresh token without consuming it. Expired
// records are deleted on sight.
func (s *Service) ValidateRefreshToken(ctx context.Context, raw string) (int64, error) {
	rec, err := s.store.RefreshTokens().Find(ctx, s.keyedHash(raw))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrInvalidToken
		}
		return 0, err
	}
	if !s.now().Before(rec.ExpiresAt) {
		if err := s.store.RefreshTokens().Delete(ctx, rec.UserID); err != nil {
			return 0, err
		}
		return 0, ErrInvalidToken
	}
	return rec.UserID, nil
}

// RefreshAccessToken exchanges a refresh token for a new token pair. The
// presented token is consumed atomically, so concurrent exchanges of the
// same token yield exactly one winner.
func (s *Service) RefreshAccessToken(ctx context.Context, raw string) (*TokenPair, error) {
	rec, err := s.store.RefreshTokens().Consume(ctx, s.keyedHash(raw))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !s.now().Before(rec.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users().Find(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return s.issuePair(ctx, user)
}

// RevokeRefreshToken drops the user's refresh token, forcing a fresh login
// once the bearer token expires.
func (s *Service) RevokeRefreshToken(ctx context.Context, userID int64) error {
	return s.store.RefreshTokens().Delete(ctx, userID)
}

// Login authenticates a username/password pair and issues a token pair.
// Unknown users, disabled users, and wrong passwords all collapse to
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, *User, error) {
	user, err := s.store.Users().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if user.Disabled || !VerifyPassword(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

func (s *Service) issuePair(ctx context.Context, user *User) (*TokenPair, error) {
	grant, err := s.IssueToken(user, nil)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		Token:        grant.Token,
		RefreshToken: refresh,
		ExpiresIn:    grant.ExpiresIn,
		ExpiresAt:    grant.ExpiresAt,
	}, nil
}

// EnsureServiceKey returns the current service key, generating one on first
// use. Concurrent initializers converge on a single key.
func (s *Service) EnsureServiceKey(ctx context.Context) (string, error) {
	st, err := s.store.ServiceKeys().Get(ctx)
	if err != nil {
		return "", err
	}
	if st.Current != "" {
		return st.Current, nil
	}
	key, err := generateServiceKey()
	if err != nil {
		return "", err
	}
	if err := s.store.ServiceKeys().Init(ctx, key, s.now()); err != nil {
		return "", err
	}
	st, err = s.store.ServiceKeys().Get(ctx)
	if err != nil {
		return "", err
	}
	return st.Current, nil
}

// RotateServiceKey installs a new current key and demotes the old one to
// previous. The old key keeps validating for the grace period.
func (s *Service) RotateServiceKey(ctx context.Context) (string, error) {
	key, err := generateServiceKey()
	if err != nil {
		return "", err
	}
	if err := s.store.ServiceKeys().Rotate(ctx, key, s.now()); err != nil {
		return "", err
	}
	obs.ObserveServiceKeyRotation()
	return key, nil
}

// CheckRotationDue rotates the service key when the rotation interval has
// elapsed, and reports whether a rotation happened. A missing key is
// initialized rather than rotated.
func (s *Service) CheckRotationDue(ctx context.Context) (bool, error) {
	st, err := s.store.ServiceKeys().Get(ctx)
	if err != nil {
		return false, err
	}
	if st.Current == "" {
		_, err := s.EnsureServiceKey(ctx)
		return false, err
	}
	if s.now().Before(st.RotatedAt.Add(s.rotationInterval)) {
		return false, nil
	}
	if _, err := s.RotateServiceKey(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ValidateServiceKey reports whether candidate matches the current service
// key, or the previous one within the grace window after a rotation.
func (s *Service) ValidateServiceKey(ctx context.Context, candidate string) (bool, error) {
	if candidate == "" {
		return false, nil
	}
	st, err := s.store.ServiceKeys().Get(ctx)
	if err != nil {
		return false, err
	}
	if st.Current != "" && constantTimeEqual(candidate, st.Current) {
		return true, nil
	}
	if st.Previous != "" && s.now().Before(st.RotatedAt.Add(s.gracePeriod)) &&
		constantTimeEqual(candidate, st.Previous) {
		return true, nil
	}
	return false, nil
}

// CreateAPIKey mints a named per-user key. The returned credentials carry
// the only copy of the secret; the store keeps just its keyed hash.
func (s *Service) CreateAPIKey(ctx context.Context, ownerID int64, name string, permissions []string, expiresAt *time.Time) (*APIKeyCredentials, error) {
	if name == "" {
		return nil, errors.New("auth: api key name is required")
	}
	key, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	secret, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	rec := &APIKey{
		ID:          ids.New(),
		Key:         key,
		SecretHash:  s.keyedHash(secret),
		Name:        name,
		Permissions: permissions,
		OwnerID:     ownerID,
		ExpiresAt:   expiresAt,
		Active:      true,
		CreatedAt:   s.now(),
	}
	if err := s.store.APIKeys().Create(ctx, rec); err != nil {
		return nil, err
	}
	return &APIKeyCredentials{ID: rec.ID, Key: key, Secret: secret}, nil
}

// AuthenticateAPIKey resolves a presented key string to its record. Unknown,
// revoked, and expired keys all return ErrInvalidCredentials. Successful
// lookups touch the key's last-used timestamp.
func (s *Service) AuthenticateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	rec, err := s.store.APIKeys().FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !rec.Active {
		return nil, ErrInvalidCredentials
	}
	if rec.ExpiresAt != nil && !s.now().Before(*rec.ExpiresAt) {
		return nil, ErrInvalidCredentials
	}
	if err := s.store.APIKeys().TouchLastUsed(ctx, rec.ID, s.now()); err != nil {
		return nil, err
	}
	return rec, nil
}

// RevokeAPIKey deactivates a key. Non-admin callers may only revoke their
// own keys.
func (s *Service) RevokeAPIKey(ctx context.Context, id string, subject Subject) error {
	return s.store.APIKeys().Revoke(ctx, id, keyScope(subject))
}

// DeleteAPIKey removes a key record entirely.
func (s *Service) DeleteAPIKey(ctx context.Context, id string, subject Subject) error {
	return s.store.APIKeys().Delete(ctx, id, keyScope(subject))
}

func (s *Service) ListAPIKeys(ctx context.Context, ownerID int64) ([]*APIKey, error) {
	return s.store.APIKeys().ListByOwner(ctx, ownerID)
}

// User resolves a directory record, as needed to build a request subject
// for an API-key caller.
func (s *Service) User(ctx context.Context, id int64) (*User, error) {
	return s.store.Users().Find(ctx, id)
}

// CleanupExpired deletes expired refresh tokens, deactivates expired API
// keys, and forgets the previous service key once its grace window has
// passed. It is safe to run on a schedule.
func (s *Service) CleanupExpired(ctx context.Context) (refreshDeleted, keysDeactivated int64, err error) {
	now := s.now()
	refreshDeleted, err = s.store.RefreshTokens().DeleteExpired(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	keysDeactivated, err = s.store.APIKeys().DeactivateExpired(ctx, now)
	if err != nil {
		return refreshDeleted, 0, err
	}
	st, err := s.store.ServiceKeys().Get(ctx)
	if err != nil {
		return refreshDeleted, keysDeactivated, err
	}
	if st.Previous != "" && !now.Before(st.RotatedAt.Add(s.gracePeriod)) {
		if err := s.store.ServiceKeys().ClearPrevious(ctx); err != nil {
			return refreshDeleted, keysDeactivated, err
		}
	}
	return refreshDeleted, keysDeactivated, nil
}

// keyScope maps a subject to the owner filter used by key mutations: admins
// and service callers operate unscoped, everyone else only on their own
// keys.
func keyScope(subject Subject) int64 {
	if subject.IsService() || subject.HasRole("administrator") {
		return 0
	}
	return subject.UserID
}

func (s *Service) keyedHash(raw string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateServiceKey() (string, error) {
	raw, err := randomToken(32)
	if err != nil {
		return "", err
	}
	return servicePrefix + raw, nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

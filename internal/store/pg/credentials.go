package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"clubgate.org/internal/auth"
)

var _ auth.CredentialStore = (*CredentialStore)(nil)

// CredentialStore implements auth.CredentialStore on PostgreSQL.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) RefreshTokens() auth.RefreshTokenStore { return &refreshStore{db: s.db} }
func (s *CredentialStore) ServiceKeys() auth.ServiceKeyStore     { return &serviceKeyStore{db: s.db} }
func (s *CredentialStore) APIKeys() auth.APIKeyStore             { return &apiKeyStore{db: s.db} }
func (s *CredentialStore) Users() auth.UserDirectory             { return &userDirectory{db: s.db} }

// Refresh tokens -----------------------------------------------------------

type refreshStore struct{ db *sql.DB }

func (s *refreshStore) Save(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens(user_id, token_hash, expires_at, created_at)
		values ($1,$2,$3,now())
		on conflict (user_id) do update
		set token_hash = excluded.token_hash,
		    expires_at = excluded.expires_at,
		    created_at = now()
	`, userID, tokenHash, expiresAt)
	return err
}

func (s *refreshStore) Find(ctx context.Context, tokenHash string) (*auth.RefreshTokenRecord, error) {
	var rec auth.RefreshTokenRecord
	err := s.db.QueryRowContext(ctx, `
		select user_id, token_hash, expires_at, created_at
		from refresh_tokens where token_hash=$1
	`, tokenHash).Scan(&rec.UserID, &rec.TokenHash, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Consume deletes and returns in one statement, so exactly one concurrent
// caller can win a given hash.
func (s *refreshStore) Consume(ctx context.Context, tokenHash string) (*auth.RefreshTokenRecord, error) {
	rec := auth.RefreshTokenRecord{TokenHash: tokenHash}
	err := s.db.QueryRowContext(ctx, `
		delete from refresh_tokens where token_hash=$1
		returning user_id, expires_at, created_at
	`, tokenHash).Scan(&rec.UserID, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *refreshStore) Delete(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, userID)
	return err
}

func (s *refreshStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Service key --------------------------------------------------------------

type serviceKeyStore struct{ db *sql.DB }

func (s *serviceKeyStore) Get(ctx context.Context) (auth.ServiceKeyState, error) {
	var st auth.ServiceKeyState
	err := s.db.QueryRowContext(ctx, `
		select current_key, coalesce(previous_key,''), rotated_at
		from auth_settings where id=1
	`).Scan(&st.Current, &st.Previous, &st.RotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ServiceKeyState{}, nil
	}
	if err != nil {
		return auth.ServiceKeyState{}, err
	}
	return st, nil
}

func (s *serviceKeyStore) Init(ctx context.Context, key string, rotatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auth_settings(id, current_key, rotated_at)
		values (1,$1,$2)
		on conflict (id) do nothing
	`, key, rotatedAt)
	return err
}

// Rotate demotes the current key and installs the new one in a single
// statement; there is never a moment without a valid current key.
func (s *serviceKeyStore) Rotate(ctx context.Context, newKey string, rotatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auth_settings(id, current_key, rotated_at)
		values (1,$1,$2)
		on conflict (id) do update
		set previous_key = auth_settings.current_key,
		    current_key  = excluded.current_key,
		    rotated_at   = excluded.rotated_at
	`, newKey, rotatedAt)
	return err
}

func (s *serviceKeyStore) ClearPrevious(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `update auth_settings set previous_key=null where id=1`)
	return err
}

// API keys -----------------------------------------------------------------

type apiKeyStore struct{ db *sql.DB }

func (s *apiKeyStore) Create(ctx context.Context, rec *auth.APIKey) error {
	perms, err := json.Marshal(rec.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into api_keys(id, key, secret_hash, name, permissions, owner_id, expires_at, active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.Key, rec.SecretHash, rec.Name, perms, rec.OwnerID, rec.ExpiresAt, rec.Active, rec.CreatedAt)
	return err
}

func (s *apiKeyStore) FindByKey(ctx context.Context, key string) (*auth.APIKey, error) {
	var (
		rec   auth.APIKey
		perms []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, key, secret_hash, name, permissions, owner_id, expires_at, active, last_used_at, created_at
		from api_keys where key=$1
	`, key).Scan(&rec.ID, &rec.Key, &rec.SecretHash, &rec.Name, &perms,
		&rec.OwnerID, &rec.ExpiresAt, &rec.Active, &rec.LastUsedAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(perms, &rec.Permissions); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *apiKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update api_keys set last_used_at=$2 where id=$1`, id, at)
	return err
}

func (s *apiKeyStore) Revoke(ctx context.Context, id string, ownerID int64) error {
	res, err := s.db.ExecContext(ctx, `
		update api_keys set active=false
		where id=$1 and ($2::bigint = 0 or owner_id=$2)
	`, id, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *apiKeyStore) Delete(ctx context.Context, id string, ownerID int64) error {
	res, err := s.db.ExecContext(ctx, `
		delete from api_keys
		where id=$1 and ($2::bigint = 0 or owner_id=$2)
	`, id, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *apiKeyStore) ListByOwner(ctx context.Context, ownerID int64) ([]*auth.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, key, secret_hash, name, permissions, owner_id, expires_at, active, last_used_at, created_at
		from api_keys where owner_id=$1
		order by created_at desc
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*auth.APIKey
	for rows.Next() {
		var (
			rec   auth.APIKey
			perms []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.SecretHash, &rec.Name, &perms,
			&rec.OwnerID, &rec.ExpiresAt, &rec.Active, &rec.LastUsedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(perms, &rec.Permissions); err != nil {
			return nil, err
		}
		res = append(res, &rec)
	}
	return res, rows.Err()
}

func (s *apiKeyStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update api_keys set active=false
		where active and expires_at is not null and expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// User directory -----------------------------------------------------------

type userDirectory struct{ db *sql.DB }

func (s *userDirectory) Find(ctx context.Context, id int64) (*auth.User, error) {
	return s.findWhere(ctx, `id=$1`, id)
}

func (s *userDirectory) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findWhere(ctx, `username=$1`, username)
}

func (s *userDirectory) findWhere(ctx context.Context, where string, arg any) (*auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, disabled, created_at
		from users where `+where,
		arg).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Disabled, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Role order is the attachment order; permission resolution walks it.
	rows, err := s.db.QueryContext(ctx, `
		select role_slug from user_roles
		where user_id=$1 order by position asc
	`, u.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &u, nil
}

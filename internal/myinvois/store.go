package myinvois

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGTokenStore keeps the single active token in Postgres so all worker
// processes share it.
type PGTokenStore struct {
	pool *pgxpool.Pool
}

// NewPGTokenStore constructs a Postgres-backed token store.
func NewPGTokenStore(pool *pgxpool.Pool) *PGTokenStore {
	return &PGTokenStore{pool: pool}
}

// Load returns the stored token, or nil when none has been acquired yet.
func (s *PGTokenStore) Load(ctx context.Context) (*AuthToken, error) {
	const query = `SELECT access_token, COALESCE(refresh_token, ''), expires_at FROM auth_tokens WHERE id = 1`
	var t AuthToken
	var expiresAt time.Time
	if err := s.pool.QueryRow(ctx, query).Scan(&t.AccessToken, &t.RefreshToken, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.ExpiresAt = expiresAt
	return &t, nil
}

// Save overwrites the active token. Single fixed row: overwriting, not
// appending, keeps one active token per tenant and makes concurrent
// refreshers last-writer-wins.
func (s *PGTokenStore) Save(ctx context.Context, token AuthToken) error {
	const query = `
INSERT INTO auth_tokens (id, access_token, refresh_token, expires_at, updated_at)
VALUES (1, $1, NULLIF($2, ''), $3, now())
ON CONFLICT (id) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	expires_at = EXCLUDED.expires_at,
	updated_at = now()`
	_, err := s.pool.Exec(ctx, query, token.AccessToken, token.RefreshToken, token.ExpiresAt)
	return err
}

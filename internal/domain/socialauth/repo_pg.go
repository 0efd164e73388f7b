package socialauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type accountRepoPG struct {
	pool   *pgxpool.Pool
	sealer TokenSealer
}

// NewRepo returns the Postgres account store. A nil sealer stores tokens in
// plaintext.
func NewRepo(pool *pgxpool.Pool, sealer TokenSealer) Repository {
	if sealer == nil {
		sealer = plainTokens{}
	}
	return &accountRepoPG{pool: pool, sealer: sealer}
}

func (r *accountRepoPG) AccessToken(ctx context.Context, userID, provider string) (string, error) {
	var stored string
	err := r.pool.QueryRow(ctx, `
		SELECT access_token FROM provider_account
		WHERE user_id = $1 AND provider = $2 AND access_token <> ''
		ORDER BY updated_at DESC
		LIMIT 1`, userID, provider).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s token: %w", provider, err)
	}

	token, err := r.sealer.Open(stored)
	if err != nil {
		return "", fmt.Errorf("decrypt %s token of %s: %w", provider, userID, err)
	}
	return token, nil
}

func (r *accountRepoPG) Upsert(ctx context.Context, a *ProviderAccount) error {
	access, refresh, err := sealTokens(r.sealer, a)
	if err != nil {
		return fmt.Errorf("encrypt %s tokens of %s: %w", a.Provider, a.UserID, err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO provider_account (user_id, provider, provider_user_id, access_token, refresh_token, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_user_id = EXCLUDED.provider_user_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		a.UserID, a.Provider, a.ProviderUserID, access, refresh, a.ExpiresAt,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert %s account for %s: %w", a.Provider, a.UserID, err)
	}
	return nil
}

func sealTokens(sealer TokenSealer, a *ProviderAccount) (string, *string, error) {
	access, err := sealer.Seal(a.AccessToken)
	if err != nil {
		return "", nil, err
	}
	if a.RefreshToken == nil {
		return access, nil, nil
	}
	refresh, err := sealer.Seal(*a.RefreshToken)
	if err != nil {
		return "", nil, err
	}
	return access, &refresh, nil
}

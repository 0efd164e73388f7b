package socialauth

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("provider account not found")

type Repository interface {
	// AccessToken returns the stored bearer token of the user's account at
	// provider, or ErrNotFound.
	AccessToken(ctx context.Context, userID, provider string) (string, error)
	Upsert(ctx context.Context, a *ProviderAccount) error
}

// TokenSealer encrypts tokens before they are written and decrypts them when
// read. Open must return values it never sealed unchanged.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

type plainTokens struct{}

func (plainTokens) Seal(s string) (string, error) { return s, nil }
func (plainTokens) Open(s string) (string, error) { return s, nil }

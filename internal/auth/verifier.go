// Package auth is the boundary to the external authentication service.
// Token issuance, credential storage and password hashing live elsewhere;
// this package only resolves an opaque session token to the user identity
// it was minted for.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidToken signals an unknown or expired session token.
var ErrInvalidToken = errors.New("auth: invalid session token")

// Verifier resolves a session token to a user ID. The HTTP API depends on
// this interface; tests substitute a map-backed fake.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

const (
	// TokenPrefix is the Redis key prefix under which the auth service
	// stores issued session tokens.
	TokenPrefix = "authtok:"

	// TokenTTL is the sliding session lifetime, refreshed on every use.
	TokenTTL = 72 * time.Hour
)

// RedisVerifier verifies tokens against the shared Redis where the auth
// service records them. Successful verification refreshes the sliding TTL.
type RedisVerifier struct {
	client *redis.Client
}

// NewRedisVerifier creates a verifier using the provided Redis client.
func NewRedisVerifier(client *redis.Client) *RedisVerifier {
	return &RedisVerifier{client: client}
}

// Verify resolves the token to a user ID, or ErrInvalidToken if the token
// is unknown or expired.
func (v *RedisVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	key := TokenPrefix + token
	userID, err := v.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("auth: verify token: %w", err)
	}

	// Sliding expiry; a failure here does not invalidate the session.
	_ = v.client.Expire(ctx, key, TokenTTL).Err()

	return userID, nil
}

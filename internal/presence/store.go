// Package presence tracks which users currently have live delivery
// connections. Presence is inferred from room membership, not separately
// managed state: the gateway records each joined connection in a per-user
// Redis set and the TTL expires stale entries if a gateway dies without
// cleaning up.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for per-user connection sets.
	KeyPrefix = "presence:"

	// TTL is how long a presence set survives without a refresh. The
	// gateway heartbeat refreshes it well within this window.
	TTL = 2 * time.Minute
)

// Store manages presence sets in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a presence store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Connect records a joined connection for the user and refreshes the TTL.
func (s *Store) Connect(ctx context.Context, userID, connID string) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: connect %s: %w", userID, err)
	}
	return nil
}

// Disconnect removes a connection from the user's set.
func (s *Store) Disconnect(ctx context.Context, userID, connID string) error {
	key := KeyPrefix + userID
	if err := s.client.SRem(ctx, key, connID).Err(); err != nil {
		return fmt.Errorf("presence: disconnect %s: %w", userID, err)
	}
	return nil
}

// Refresh extends the TTL of the user's presence set. Called from the
// gateway heartbeat for every connection that answers pings.
func (s *Store) Refresh(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	if err := s.client.Expire(ctx, key, TTL).Err(); err != nil {
		return fmt.Errorf("presence: refresh %s: %w", userID, err)
	}
	return nil
}

// Online reports whether the user has at least one live connection on any
// gateway instance.
func (s *Store) Online(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.SCard(ctx, KeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("presence: online %s: %w", userID, err)
	}
	return n > 0, nil
}

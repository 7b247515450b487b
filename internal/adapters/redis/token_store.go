package redis

// Package redis persists the provider token pair so a restarted gateway can
// restore its session. The access token inside the stored pair may be stale;
// only the refresh token needs to survive, so the TTL tracks the refresh
// token lifetime rather than access token expiry.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// TokenStore is a Redis-backed implementation of the token persistence port.
type TokenStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// TokenStoreOptions configures a TokenStore.
type TokenStoreOptions struct {
	Client redis.UniversalClient
	// Key is the Redis key holding the token pair. Gateways serving different
	// identities must use distinct keys.
	Key string
	// TTL bounds how long an unused refresh token is kept. Defaults to 30 days.
	TTL time.Duration
}

// NewTokenStore creates a Redis-backed token store.
func NewTokenStore(opts TokenStoreOptions) (*TokenStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis token store: client is required")
	}
	key := opts.Key
	if key == "" {
		key = "sessiongate:tokens"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenStore{client: opts.Client, key: key, ttl: ttl}, nil
}

// Save stores the token pair, refreshing the TTL.
func (s *TokenStore) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.RefreshToken == "" {
		return errors.New("redis token store: refresh token cannot be empty")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.key, data, s.ttl).Err()
}

// Load returns the stored token pair, or (nil, nil) when none exists.
func (s *TokenStore) Load(ctx context.Context) (*domainauth.Session, error) {
	data, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var sess domainauth.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes the stored token pair.
func (s *TokenStore) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

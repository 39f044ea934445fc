// Package cache keeps short-lived PKCE code verifiers in Redis between the
// authorize redirect and the callback. Verifiers are single-use: a read
// deletes the key so a replayed callback finds nothing.
package cache

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deidlabs/linkd/internal/config"
)

// ErrVerifierMissing means no verifier is stored for the state: it expired,
// was already consumed, or never existed.
var ErrVerifierMissing = errors.New("no verifier for state")

// VerifierCache stores one PKCE verifier per OAuth state value.
type VerifierCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(cfg config.CacheConfig) *VerifierCache {
	return &VerifierCache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: time.Duration(cfg.VerifierTTL) * time.Second,
	}
}

// NewWithClient wires an existing client, used by tests.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *VerifierCache {
	return &VerifierCache{rdb: rdb, ttl: ttl}
}

func (c *VerifierCache) Close() error {
	return c.rdb.Close()
}

// Ping verifies the Redis connection at startup.
func (c *VerifierCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Put stores the verifier under the state, replacing any previous value and
// resetting the TTL.
func (c *VerifierCache) Put(ctx context.Context, state, verifier string) error {
	if err := c.rdb.Set(ctx, key(state), verifier, c.ttl).Err(); err != nil {
		return fmt.Errorf("store verifier: %w", err)
	}
	return nil
}

// Take fetches and deletes the verifier for the state in one round trip.
func (c *VerifierCache) Take(ctx context.Context, state string) (string, error) {
	verifier, err := c.rdb.GetDel(ctx, key(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrVerifierMissing
	}
	if err != nil {
		return "", fmt.Errorf("take verifier: %w", err)
	}
	return verifier, nil
}

func key(state string) string {
	return "linkd:pkce:" + state
}

// GeneratePKCE returns a fresh code verifier and its S256 challenge,
// both base64url without padding per RFC 7636.
func GeneratePKCE() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/studyhub/internal/cache"
	"github.com/charlesng35/studyhub/internal/models"
)

const sessionCacheKeyPrefix = "auth:sessions:refresh:"

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache stores sessions keyed by the digest of their refresh token.
type SessionCache interface {
	Get(ctx context.Context, digest string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, digest string) error
}

// NewStoreSessionCache wraps a cache.Store (Redis or database backed) as a SessionCache.
func NewStoreSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &sessionStoreCache{store: store}
}

type sessionStoreCache struct {
	store cache.Store
}

func (c *sessionStoreCache) Get(ctx context.Context, digest string) (*models.Session, error) {
	key := cacheKey(digest)
	if key == "" {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	// RefreshToken is not serialised; the key is the digest.
	session.RefreshToken = digest
	return &session, nil
}

func (c *sessionStoreCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: session is nil")
	}
	key := cacheKey(session.RefreshToken)
	if key == "" {
		return errors.New("session cache: refresh token missing")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	return c.store.Set(ctx, key, payload, ttl)
}

func (c *sessionStoreCache) Delete(ctx context.Context, digest string) error {
	key := cacheKey(digest)
	if key == "" {
		return nil
	}
	return c.store.Delete(ctx, key)
}

func cacheKey(digest string) string {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return ""
	}
	return sessionCacheKeyPrefix + digest
}

package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kodix/kodix-server/internal/cache"
	"github.com/kodix/kodix-server/internal/models"
)

const sessionCachePrefix = "sessions:"

// StoreSessionCache adapts a cache.Store into a SessionCache. Entries are
// keyed by token and carry the full session row as JSON.
type StoreSessionCache struct {
	store cache.Store
}

// NewStoreSessionCache wraps the given store. A nil store yields a nil cache,
// which SessionService treats as caching disabled.
func NewStoreSessionCache(store cache.Store) *StoreSessionCache {
	if store == nil {
		return nil
	}
	return &StoreSessionCache{store: store}
}

func (c *StoreSessionCache) Get(ctx context.Context, token string) (*models.Session, error) {
	payload, found, err := c.store.Get(ctx, sessionCachePrefix+token)
	if err != nil || !found {
		return nil, err
	}

	var session models.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		// A corrupt entry is dropped rather than surfaced; the database
		// remains the source of truth.
		_ = c.store.Delete(ctx, sessionCachePrefix+token)
		return nil, nil
	}
	return &session, nil
}

func (c *StoreSessionCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, sessionCachePrefix+session.Token, payload, ttl)
}

func (c *StoreSessionCache) Delete(ctx context.Context, token string) error {
	return c.store.Delete(ctx, sessionCachePrefix+token)
}

package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedProvider caches minted tokens in Redis keyed by user and device, so
// repeated connection setups within the token lifetime skip the token API.
// Cache failures degrade to the inner provider; they are never fatal.
type CachedProvider struct {
	inner Provider
	rdb   *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

func NewCachedProvider(inner Provider, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedProvider{inner: inner, rdb: rdb, ttl: ttl, log: log}
}

func (p *CachedProvider) FetchToken(ctx context.Context, creds Credentials, deviceID string) (string, error) {
	key := cacheKey(creds.UserID, deviceID)

	cached, err := p.rdb.Get(ctx, key).Result()
	if err == nil && cached != "" {
		return cached, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		p.log.Warn("token cache read failed", "err", err)
	}

	tok, err := p.inner.FetchToken(ctx, creds, deviceID)
	if err != nil {
		return "", err
	}
	if err := p.rdb.Set(ctx, key, tok, p.ttl).Err(); err != nil {
		p.log.Warn("token cache write failed", "err", err)
	}
	return tok, nil
}

// Invalidate drops the cached token, e.g. after the service reports it
// unusable.
func (p *CachedProvider) Invalidate(ctx context.Context, userID, deviceID string) error {
	return p.rdb.Del(ctx, cacheKey(userID, deviceID)).Err()
}

func cacheKey(userID, deviceID string) string {
	return fmt.Sprintf("voip:token:%s:%s", userID, deviceID)
}

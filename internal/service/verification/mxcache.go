package verification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// MXCache is an optional second-tier cache for MX lookups, grounded on the
// mail_sorter SMTPVerifier's redis-backed MX/result caching. A nil *MXCache
// is valid everywhere it's used — the prober falls back to live DNS on
// every call when Redis is unavailable, it is never required for
// correctness (Non-goals: no cluster coordination is implied by its
// presence).
type MXCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMXCache wraps an existing redis client. Pass a nil client to get a
// cache that always misses.
func NewMXCache(client *redis.Client, ttl time.Duration) *MXCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MXCache{client: client, ttl: ttl}
}

func mxCacheKey(domainPart string) string {
	return "verify:mx:" + domainPart
}

// Get returns cached MX records for domainPart, if present and unexpired.
func (c *MXCache) Get(ctx context.Context, domainPart string) ([]domain_MX, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, mxCacheKey(domainPart)).Bytes()
	if err != nil {
		return nil, false
	}
	var mxs []domain_MX
	if err := json.Unmarshal(raw, &mxs); err != nil {
		logger.Warn("mx cache unmarshal failed", "domain", domainPart, "error", err)
		return nil, false
	}
	return mxs, true
}

// Set stores MX records for domainPart. Failures are logged and swallowed:
// DNS is always the fallback of record.
func (c *MXCache) Set(ctx context.Context, domainPart string, mxs []domain_MX) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(mxs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, mxCacheKey(domainPart), raw, c.ttl).Err(); err != nil {
		logger.Warn("mx cache set failed", "domain", domainPart, "error", err)
	}
}

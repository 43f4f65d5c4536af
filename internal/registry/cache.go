package registry

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedRuleSet fronts a RuleSet with an optional Redis memoization layer.
// Memoizing is sound here only because IsInteresting is a pure function of
// its inputs (spec §8 invariant 6) — equal (key, process) pairs are always
// equal outputs, so caching never goes stale.
//
// If redisClient is nil, or Redis is unreachable at call time, CachedRuleSet
// falls back transparently to the uncached RuleSet — matching the
// degrade-gracefully posture the teacher's authz plugin takes when its
// Redis singleton is skipped for tests (AUTHZ_SKIP_INIT).
type CachedRuleSet struct {
	rules *RuleSet
	redis *redis.Client
	log   *zap.Logger

	// local is a small in-process fallback cache, bounded so a pathological
	// stream of unique (key, process) pairs can't grow it without limit.
	mu    sync.Mutex
	local map[string]bool
	order []string
	max   int
}

const defaultLocalCacheMax = 4096

// NewCachedRuleSet wraps rules with an optional Redis client. client may be
// nil to use only the bounded local fallback cache.
func NewCachedRuleSet(rules *RuleSet, client *redis.Client, log *zap.Logger) *CachedRuleSet {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedRuleSet{
		rules: rules,
		redis: client,
		log:   log,
		local: make(map[string]bool),
		max:   defaultLocalCacheMax,
	}
}

// IsInteresting returns the cached decision for (key, process), computing
// and storing it on a cache miss.
func (c *CachedRuleSet) IsInteresting(ctx context.Context, key, process string) bool {
	cacheKey := key + "\x00" + process

	if c.redis != nil {
		if v, err := c.redis.Get(ctx, "regrule:"+cacheKey).Result(); err == nil {
			return v == "1"
		}
	}

	c.mu.Lock()
	if v, ok := c.local[cacheKey]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	result := c.rules.IsInteresting(key, process)

	if c.redis != nil {
		val := "0"
		if result {
			val = "1"
		}
		setCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		if err := c.redis.Set(setCtx, "regrule:"+cacheKey, val, 24*time.Hour).Err(); err != nil {
			c.log.Debug("registry cache: redis set failed, using local fallback", zap.Error(err))
		}
		cancel()
	}

	c.mu.Lock()
	c.storeLocked(cacheKey, result)
	c.mu.Unlock()

	return result
}

func (c *CachedRuleSet) storeLocked(key string, v bool) {
	if _, exists := c.local[key]; exists {
		c.local[key] = v
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.local, oldest)
	}
	c.local[key] = v
	c.order = append(c.order, key)
}

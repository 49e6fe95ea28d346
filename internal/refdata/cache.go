package refdata

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/marketscope/dispatch/internal/metrics"
)

// Cache holds the periodically refreshed instrument listing for one
// market. Refreshes are single-flight: concurrent callers whose TTL check
// fails share one fetch instead of issuing duplicates. A failed refresh
// retains the previous snapshot so resolution degrades instead of losing
// history.
type Cache struct {
	market string
	source Source
	ttl    time.Duration
	logger *zap.Logger

	mu   sync.RWMutex
	snap *snapshot

	group singleflight.Group
	clock func() time.Time
}

// NewCache creates a reference data cache for one market.
func NewCache(market string, source Source, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{
		market: market,
		source: source,
		ttl:    ttl,
		logger: logger,
		clock:  time.Now,
	}
}

// Market returns the market this cache serves.
func (c *Cache) Market() string { return c.market }

// Entries returns the current snapshot, refreshing lazily.
//
// With a snapshot present (fresh or stale) the call never blocks on the
// network: a stale snapshot kicks off an async single-flight refresh and
// the old data is returned immediately. Only a cold cache joins the fetch
// synchronously, and a failed first fetch degrades to an empty set.
func (c *Cache) Entries(ctx context.Context) []Entry {
	now := c.clock()

	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap != nil {
		if snap.expired(c.ttl, now) {
			metrics.RefdataStaleServes.WithLabelValues(c.market).Inc()
			go func() {
				// Detach from the request: the refresh outlives the caller.
				refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				c.refresh(refreshCtx)
			}()
		}
		return snap.entries
	}

	// Cold cache: the caller joins the in-flight fetch.
	if err := c.refresh(ctx); err != nil {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil
	}
	return c.snap.entries
}

// refresh performs a single-flight fetch keyed by market and replaces the
// snapshot wholesale on success.
func (c *Cache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do(c.market, func() (interface{}, error) {
		entries, err := c.source.Fetch(ctx)
		if err != nil {
			metrics.RefdataRefreshes.WithLabelValues(c.market, "failure").Inc()
			c.logger.Warn("Reference data refresh failed, retaining previous snapshot",
				zap.String("market", c.market),
				zap.Error(err),
			)
			return nil, err
		}

		c.mu.Lock()
		c.snap = &snapshot{entries: entries, fetchedAt: c.clock()}
		c.mu.Unlock()

		metrics.RefdataRefreshes.WithLabelValues(c.market, "success").Inc()
		metrics.RefdataSnapshotSize.WithLabelValues(c.market).Set(float64(len(entries)))
		c.logger.Info("Reference data refreshed",
			zap.String("market", c.market),
			zap.Int("entries", len(entries)),
		)
		return nil, nil
	})
	return err
}

// HasSnapshot reports whether the cache has ever populated successfully.
func (c *Cache) HasSnapshot() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap != nil
}

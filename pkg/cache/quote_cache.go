// Package cache keeps recently fetched oracle quotes so the program, the
// price relay and API readers share one upstream request per feed.
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"asset-rebalancer/pkg/oracle"

	"github.com/rs/zerolog/log"
)

const numShards = 16

// ShardedQuoteCache holds the last quote per feed id.
type ShardedQuoteCache struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]quoteEntry
}

type quoteEntry struct {
	quote     oracle.PriceQuote
	fetchedAt time.Time
}

// NewShardedQuoteCache creates a new sharded cache.
func NewShardedQuoteCache() *ShardedQuoteCache {
	c := &ShardedQuoteCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{
			items: make(map[string]quoteEntry),
		}
	}
	return c
}

func (c *ShardedQuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores q for feed, fetched at at.
func (c *ShardedQuoteCache) Set(feed string, q oracle.PriceQuote, at time.Time) {
	shard := c.getShard(feed)
	shard.mu.Lock()
	shard.items[feed] = quoteEntry{quote: q, fetchedAt: at}
	shard.mu.Unlock()
}

// Get returns the cached quote for feed and when it was fetched.
func (c *ShardedQuoteCache) Get(feed string) (oracle.PriceQuote, time.Time, bool) {
	shard := c.getShard(feed)
	shard.mu.RLock()
	entry, ok := shard.items[feed]
	shard.mu.RUnlock()
	return entry.quote, entry.fetchedAt, ok
}

// Len returns total items across all shards.
func (c *ShardedQuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries fetched before cutoff.
func (c *ShardedQuoteCache) Cleanup(cutoff time.Time) int {
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for feed, entry := range shard.items {
			if entry.fetchedAt.Before(cutoff) {
				delete(shard.items, feed)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Feed fronts an upstream oracle.Feed. Quotes younger than TTL are served
// from the cache. When the upstream fails the last quote is returned and
// oracle.Policy decides whether it is still usable.
type Feed struct {
	Source oracle.Feed
	TTL    time.Duration
	Cache  *ShardedQuoteCache
	Now    func() time.Time
}

// NewFeed wraps source with a cache of ttl.
func NewFeed(source oracle.Feed, ttl time.Duration) *Feed {
	return &Feed{Source: source, TTL: ttl, Cache: NewShardedQuoteCache(), Now: time.Now}
}

func (f *Feed) ReadPrice(ctx context.Context, feed string) (oracle.PriceQuote, error) {
	now := f.Now()
	cached, at, ok := f.Cache.Get(feed)
	if ok && now.Sub(at) < f.TTL {
		return cached, nil
	}
	q, err := f.Source.ReadPrice(ctx, feed)
	if err != nil {
		if ok {
			log.Warn().Err(err).Str("feed", feed).Dur("age", now.Sub(at)).Msg("oracle read failed, serving cached quote")
			return cached, nil
		}
		return oracle.PriceQuote{}, err
	}
	f.Cache.Set(feed, q, now)
	return q, nil
}

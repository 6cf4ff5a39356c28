// Package cache provides a sharded last-price cache keyed by trading pair.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// PriceCache holds the latest mark price per pair. Feeds write it on every
// candle; trade monitors and the API read it for stop checks and unrealized
// PnL.
type PriceCache struct {
	shards [numShards]*shard
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	price     float64
	updatedAt time.Time
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	c := &PriceCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *PriceCache) getShard(pair string) *shard {
	h := fnv.New32a()
	h.Write([]byte(pair))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest price for a pair.
func (c *PriceCache) Set(pair string, price float64) {
	s := c.getShard(pair)
	s.mu.Lock()
	s.items[pair] = entry{price: price, updatedAt: time.Now()}
	s.mu.Unlock()
}

// Get returns the latest price for a pair.
func (c *PriceCache) Get(pair string) (float64, bool) {
	s := c.getShard(pair)
	s.mu.RLock()
	e, ok := s.items[pair]
	s.mu.RUnlock()
	return e.price, ok
}

// GetWithAge returns the latest price and how stale it is. The paper venue
// uses the age to refuse fills from a dead feed.
func (c *PriceCache) GetWithAge(pair string) (float64, time.Duration, bool) {
	s := c.getShard(pair)
	s.mu.RLock()
	e, ok := s.items[pair]
	s.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return e.price, time.Since(e.updatedAt), true
}

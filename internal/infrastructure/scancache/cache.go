package scancache

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
	"github.com/dolakin/tax-bills-assistant/internal/core/ports"
)

const (
	defaultTTL    = 15 * time.Minute
	cleanupPeriod = 5 * time.Minute
)

// Corpus is a read-through cache over ChunkStore.ScanAll. Full scans feed the
// keyword filter on every retrieval turn, so they are cached until ingestion
// announces a corpus change; the TTL is only a fallback bound on staleness.
type Corpus struct {
	store ports.ChunkStore
	cache *gocache.Cache
	ttl   time.Duration

	mu      sync.Mutex
	version uint64
}

func NewCorpus(store ports.ChunkStore, ttl time.Duration) *Corpus {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Corpus{
		store: store,
		cache: gocache.New(ttl, cleanupPeriod),
		ttl:   ttl,
	}
}

// Fragments returns the cached full fragment set, loading it from the store
// on miss. Concurrent misses may each hit the store once; the last load wins.
func (c *Corpus) Fragments(ctx context.Context) ([]domain.Fragment, error) {
	key := c.versionKey()
	if v, ok := c.cache.Get(key); ok {
		if fragments, ok := v.([]domain.Fragment); ok {
			return fragments, nil
		}
	}

	fragments, err := c.store.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, fragments, c.ttl)
	return fragments, nil
}

// Invalidate bumps the version so the next read loads fresh data. Called from
// the reingest event subscriber.
func (c *Corpus) Invalidate() {
	c.mu.Lock()
	c.version++
	c.mu.Unlock()
	c.cache.Flush()
}

func (c *Corpus) versionKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("scan:v%d", c.version)
}

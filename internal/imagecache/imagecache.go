// Package imagecache resolves food names to image URLs through a
// two-tier cache: an in-memory table persisted through the durable store
// adapter, in front of the remote lookup endpoint. Concurrent lookups for
// the same name coalesce into one outbound call, and failed lookups are
// cached as the fallback URL so a missing image is not re-fetched on every
// request.
package imagecache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutriplan/client-go/internal/store"
)

const (
	// DefaultPlaceholder is served when a lookup fails and the caller
	// supplied no fallback of its own.
	DefaultPlaceholder = "https://cdn.nutriplan.app/images/placeholder-food.png"

	// retention is intentionally long: image URLs for a given food are
	// stable, and negative results should not hammer the lookup service.
	retention = 7 * 24 * time.Hour

	storeKey = "nutriplan_image_cache"
)

// Resolver is the outbound lookup call.
type Resolver interface {
	LookupImage(ctx context.Context, query string) (string, error)
}

type entry struct {
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.Timestamp) >= retention
}

// inflight tracks one pending lookup; every coalesced caller waits on done.
type inflight struct {
	done chan struct{}
	url  string
}

// Cache is the image resolution cache.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	pending  map[string]*inflight
	resolver Resolver
	store    store.Store
	logger   zerolog.Logger
}

// New creates a cache backed by st, restoring any persisted table whose
// entries are still within the retention window.
func New(resolver Resolver, st store.Store, logger zerolog.Logger) *Cache {
	c := &Cache{
		entries:  make(map[string]entry),
		pending:  make(map[string]*inflight),
		resolver: resolver,
		store:    st,
		logger:   logger,
	}

	c.restore()

	return c
}

// GetImage resolves name to an image URL. A cached entry is served
// without a network call; otherwise one lookup is issued and concurrent
// callers for the same normalized name share its outcome. Lookup failures
// resolve to fallback (or the default placeholder) and are cached like any
// other result, so GetImage never returns an error.
func (c *Cache) GetImage(ctx context.Context, name, fallback string) string {
	if fallback == "" {
		fallback = DefaultPlaceholder
	}

	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fallback
	}

	c.mu.Lock()

	if e, ok := c.entries[key]; ok && !e.expired(time.Now()) {
		c.mu.Unlock()
		c.logger.Debug().Str("key", key).Msg("image cache hit")
		return e.URL
	}

	if p, ok := c.pending[key]; ok {
		c.mu.Unlock()
		c.logger.Debug().Str("key", key).Msg("joining in-flight image lookup")
		select {
		case <-p.done:
			return p.url
		case <-ctx.Done():
			return fallback
		}
	}

	p := &inflight{done: make(chan struct{})}
	c.pending[key] = p
	c.mu.Unlock()

	url, err := c.resolver.LookupImage(ctx, key)
	if err != nil || url == "" {
		if err != nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("image lookup failed, caching fallback")
		}
		url = fallback
	}

	c.mu.Lock()
	c.entries[key] = entry{URL: url, Timestamp: time.Now()}
	delete(c.pending, key)
	c.persistLocked()
	c.mu.Unlock()

	p.url = url
	close(p.done)

	return url
}

// ClearCache resets the table and removes the persisted backing entry.
// In-flight lookups are not cancelled; they settle and repopulate.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	c.store.Remove(storeKey)
	c.logger.Debug().Msg("image cache cleared")
}

// CacheStats returns the table size and keys, for diagnostics only.
func (c *Cache) CacheStats() (int, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return len(c.entries), keys
}

// restore loads the persisted table, dropping expired entries.
func (c *Cache) restore() {
	raw, ok := c.store.Get(storeKey)
	if !ok {
		return
	}

	var persisted map[string]entry
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		c.logger.Warn().Err(err).Msg("persisted image cache corrupt, discarding")
		c.store.Remove(storeKey)
		return
	}

	now := time.Now()
	for k, e := range persisted {
		if !e.expired(now) {
			c.entries[k] = e
		}
	}

	c.logger.Debug().Int("entries", len(c.entries)).Msg("image cache restored")
}

// persistLocked writes the table through the store adapter. Callers hold
// c.mu.
func (c *Cache) persistLocked() {
	data, err := json.Marshal(c.entries)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode image cache")
		return
	}
	c.store.Set(storeKey, string(data))
}

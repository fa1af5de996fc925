// Package cache implements the client's generic TTL cache. Entries are
// JSON envelopes written through the durable store adapter, namespaced by
// an application prefix and optionally scoped to a single user so cached
// data never leaks across accounts.
package cache

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nutriplan/client-go/internal/store"
)

const (
	// Prefix namespaces every cache entry in the underlying store.
	Prefix = "nutriplan_cache_"

	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL = 30 * time.Minute
)

// envelope is the persisted shape of a cache entry.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
	TTL       time.Duration   `json:"ttl,omitempty"`
}

func (e *envelope) expired(now time.Time) bool {
	ttl := e.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(e.Timestamp) >= ttl
}

// Cache is a user-scoped TTL cache over a durable store.
type Cache struct {
	store  store.Store
	logger zerolog.Logger
}

// New creates a cache over st. If the store supports eviction hooks the
// cache registers its sweep, so quota-style persist failures trigger a
// cleanup pass instead of a hard failure.
func New(st store.Store, logger zerolog.Logger) *Cache {
	c := &Cache{store: st, logger: logger}

	if h, ok := st.(store.Evictable); ok {
		h.SetEvictionHook(c.ClearOldEntries)
	}

	return c
}

// key builds the namespaced store key: Prefix + userID + "_" + key when a
// user scope is given, Prefix + key otherwise.
func (c *Cache) key(key, userID string) string {
	if userID != "" {
		return Prefix + userID + "_" + key
	}
	return Prefix + key
}

// Get loads the entry for key into v and reports whether it was usable.
// Absent, unparsable, expired, or scope-mismatched entries all return
// false, and the stale entry is removed as a side effect.
func (c *Cache) Get(key, userID string, v any) bool {
	raw, ok := c.lookup(key, userID)
	if !ok {
		return false
	}

	if err := json.Unmarshal(raw, v); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("cached payload does not match requested shape")
		c.Remove(key, userID)
		return false
	}

	return true
}

// Set stores v under key with an optional user scope. A ttl of zero means
// the default TTL.
func (c *Cache) Set(key string, v any, userID string, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to encode cache entry")
		return
	}

	env := envelope{
		Data:      data,
		Timestamp: time.Now(),
		UserID:    userID,
		TTL:       ttl,
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to encode cache envelope")
		return
	}

	c.store.Set(c.key(key, userID), string(encoded))
}

// Remove deletes one entry.
func (c *Cache) Remove(key, userID string) {
	c.store.Remove(c.key(key, userID))
}

// Has reports whether a usable entry exists for key. Like Get, it evicts
// stale entries it encounters.
func (c *Cache) Has(key, userID string) bool {
	_, ok := c.lookup(key, userID)
	return ok
}

// ClearUser deletes every entry scoped to userID. With an empty userID it
// clears everything under the cache prefix.
func (c *Cache) ClearUser(userID string) {
	if userID == "" {
		c.ClearAll()
		return
	}

	scope := Prefix + userID + "_"
	removed := 0
	for _, k := range c.store.Keys() {
		if strings.HasPrefix(k, scope) {
			c.store.Remove(k)
			removed++
		}
	}

	c.logger.Debug().Str("userID", userID).Int("removed", removed).Msg("cleared user cache scope")
}

// ClearAll deletes every entry under the cache prefix regardless of scope.
func (c *Cache) ClearAll() {
	removed := 0
	for _, k := range c.store.Keys() {
		if strings.HasPrefix(k, Prefix) {
			c.store.Remove(k)
			removed++
		}
	}

	c.logger.Debug().Int("removed", removed).Msg("cleared cache")
}

// ClearOldEntries scans the cache prefix and deletes expired or corrupt
// entries. It runs automatically when the store reports quota pressure.
func (c *Cache) ClearOldEntries() {
	now := time.Now()
	removed := 0

	for _, k := range c.store.Keys() {
		if !strings.HasPrefix(k, Prefix) {
			continue
		}

		raw, ok := c.store.Get(k)
		if !ok {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil || env.expired(now) {
			c.store.Remove(k)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("evicted stale cache entries")
	}
}

// lookup fetches and validates the envelope for key, returning the raw
// payload. Invalid entries are removed before reporting a miss.
func (c *Cache) lookup(key, userID string) (json.RawMessage, bool) {
	storeKey := c.key(key, userID)

	raw, ok := c.store.Get(storeKey)
	if !ok {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("corrupt cache entry, evicting")
		c.store.Remove(storeKey)
		return nil, false
	}

	if env.expired(time.Now()) {
		c.store.Remove(storeKey)
		return nil, false
	}

	if env.UserID != "" && env.UserID != userID {
		c.store.Remove(storeKey)
		return nil, false
	}

	return env.Data, true
}

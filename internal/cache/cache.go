// /internal/cache/cache.go
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/keshon/datastore"
	"github.com/rs/zerolog"
)

// ErrCorrupt marks a stored value that could not be decoded. Callers treat it
// as an internal error for the affected key; other guilds are unaffected.
var ErrCorrupt = errors.New("cache: corrupt entry")

// Cache is the guild-keyed KV layer every store builds on. Values are kept in
// the external datastore as JSON records; an optional absolute deadline makes
// an entry invisible (and deleted) once it has passed, since the datastore
// itself knows nothing about expiry.
type Cache struct {
	ds  *datastore.DataStore
	log zerolog.Logger
}

type record struct {
	Value     json.RawMessage `json:"v"`
	ExpiresAt int64           `json:"exp,omitempty"` // unix ms, 0 = no expiry
}

func New(path string, log zerolog.Logger) (*Cache, error) {
	ds, err := datastore.New(path)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	return &Cache{ds: ds, log: log.With().Str("component", "cache").Logger()}, nil
}

func (c *Cache) Close() error {
	return c.ds.Close()
}

// Key helpers, one per persisted concern. Same scheme for every guild.

func QueueKey(guild int64) string        { return fmt.Sprintf("queue:%d", guild) }
func QueuePlayingKey(guild int64) string { return fmt.Sprintf("queue_playing:%d", guild) }
func QueueLoopKey(guild int64) string    { return fmt.Sprintf("queue_loop:%d", guild) }
func PlayerKey(guild int64) string       { return fmt.Sprintf("player:%d", guild) }

// Get reads key into T. The second return is false when the key is absent or
// its deadline has passed.
func Get[T any](c *Cache, key string) (T, bool, error) {
	var zero T

	raw, exists := c.ds.Get(key)
	if !exists {
		return zero, false, nil
	}

	// The datastore hands back whatever it unmarshalled at load time, so
	// round-trip through JSON to get a typed value back out.
	data, err := json.Marshal(raw)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("marshal stored entry")
		return zero, false, fmt.Errorf("%w: %s", ErrCorrupt, key)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("decode stored entry")
		return zero, false, fmt.Errorf("%w: %s", ErrCorrupt, key)
	}

	if rec.ExpiresAt > 0 && rec.ExpiresAt <= time.Now().UnixMilli() {
		c.ds.Delete(key)
		return zero, false, nil
	}

	var value T
	if err := json.Unmarshal(rec.Value, &value); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("decode stored value")
		return zero, false, fmt.Errorf("%w: %s", ErrCorrupt, key)
	}
	return value, true, nil
}

// Set writes key without expiry.
func Set(c *Cache, key string, value any) error {
	return write(c, key, value, 0)
}

// SetTTL writes key with a deadline relative to now.
func SetTTL(c *Cache, key string, value any, ttl time.Duration) error {
	return write(c, key, value, time.Now().Add(ttl).UnixMilli())
}

func write(c *Cache, key string, value any, expiresAt int64) error {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("encode value")
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	c.ds.Add(key, record{Value: data, ExpiresAt: expiresAt})
	return nil
}

// Del removes key. Removing an absent key is a no-op.
func Del(c *Cache, key string) {
	c.ds.Delete(key)
}

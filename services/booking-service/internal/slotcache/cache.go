// Package slotcache memoizes computed slot lists in Redis. Entries are
// never deleted on writes; bumping a generation counter orphans them and
// the TTL reclaims the space.
package slotcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const dateFormat = "2006-01-02"

// Key identifies one slot computation.
type Key struct {
	Date          time.Time
	ServiceID     string
	StepMinutes   int
	BufferMinutes int
	PolicyVersion int64
}

type Cache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func New(rdb redis.Cmdable, ttl time.Duration, prefix string) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if prefix == "" {
		prefix = "slots:"
	}
	return &Cache{rdb: rdb, ttl: ttl, prefix: prefix}
}

// Entry is a cache key resolved against the generations current at the
// time. A list computed after Resolve is written back through the same
// Entry, so an invalidation in between orphans it instead of publishing it.
type Entry string

// Resolve pins k to the current generations.
func (c *Cache) Resolve(ctx context.Context, k Key) (Entry, error) {
	day := k.Date.Format(dateFormat)
	gens, err := c.rdb.MGet(ctx, c.genKey(day), c.genKey("all")).Result()
	if err != nil {
		return "", err
	}
	return Entry(fmt.Sprintf("%s%s:%s:s%d:b%d:v%d:g%s.%s", c.prefix, day, k.ServiceID,
		k.StepMinutes, k.BufferMinutes, k.PolicyVersion, gen(gens[0]), gen(gens[1]))), nil
}

// Get returns the slot minutes stored under e.
func (c *Cache) Get(ctx context.Context, e Entry) ([]int, bool, error) {
	raw, err := c.rdb.Get(ctx, string(e)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var minutes []int
	if err := json.Unmarshal(raw, &minutes); err != nil {
		return nil, false, nil
	}
	return minutes, true, nil
}

func (c *Cache) Put(ctx context.Context, e Entry, minutes []int) error {
	if e == "" {
		return errors.New("slotcache: unresolved entry")
	}
	if minutes == nil {
		minutes = []int{}
	}
	raw, err := json.Marshal(minutes)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, string(e), raw, c.ttl).Err()
}

// Invalidate orphans every entry for date.
func (c *Cache) Invalidate(ctx context.Context, date time.Time) error {
	return c.bump(ctx, c.genKey(date.Format(dateFormat)))
}

// InvalidateAll orphans every entry, for edits that can touch any date.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.bump(ctx, c.genKey("all"))
}

func (c *Cache) bump(ctx context.Context, key string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 30*24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) genKey(suffix string) string {
	return c.prefix + "gen:" + suffix
}

func gen(v any) string {
	s, ok := v.(string)
	if !ok {
		return "0"
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return "0"
	}
	return s
}

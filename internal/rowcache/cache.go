// Package rowcache is a read-through TTL cache in front of a row store.
//
// Concurrent misses for one table share a single fetch. Invalidate bumps
// the table generation, and a fetch started under an older generation
// never populates the cache, so a write is always visible to the next
// read.
package rowcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"deadlinebot/internal/rowstore"
	logx "deadlinebot/pkg/logx"

	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 300 * time.Second

type Options struct {
	TTL time.Duration
	Now func() time.Time
	Log logx.Logger
}

type entry struct {
	rows    [][]string
	expires time.Time
}

// Cache implements rowstore.Store. Writes pass through and invalidate the
// written table.
type Cache struct {
	store rowstore.Store
	ttl   time.Duration
	now   func() time.Time
	log   logx.Logger

	mu      sync.Mutex
	entries map[string]entry
	gens    map[string]uint64
	epoch   uint64

	group singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ rowstore.Store = (*Cache)(nil)

func New(store rowstore.Store, opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	return &Cache{
		store:   store,
		ttl:     opts.TTL,
		now:     opts.Now,
		log:     opts.Log,
		entries: map[string]entry{},
		gens:    map[string]uint64{},
	}
}

// SetTTL changes the lifetime of entries stored from now on.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

func (c *Cache) ReadTable(ctx context.Context, name string) ([][]string, error) {
	c.mu.Lock()
	if e, ok := c.entries[name]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		c.hits.Add(1)
		return cloneRows(e.rows), nil
	}
	gen, epoch := c.gens[name], c.epoch
	c.mu.Unlock()
	c.misses.Add(1)

	key := fmt.Sprintf("%s#%d#%d", name, epoch, gen)
	v, err, shared := c.group.Do(key, func() (any, error) {
		rows, err := c.store.ReadTable(ctx, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.ttl > 0 && c.gens[name] == gen && c.epoch == epoch {
			c.entries[name] = entry{rows: rows, expires: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Trace("row cache fetch shared", logx.String("table", name))
	}
	return cloneRows(v.([][]string)), nil
}

func (c *Cache) AppendRow(ctx context.Context, name string, row []string) error {
	err := c.store.AppendRow(ctx, name, row)
	c.Invalidate(name)
	return err
}

func (c *Cache) DeleteRow(ctx context.Context, name string, index int) error {
	err := c.store.DeleteRow(ctx, name, index)
	c.Invalidate(name)
	return err
}

// Invalidate drops the cached rows for name.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.gens[name]++
	c.mu.Unlock()
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = map[string]entry{}
	c.epoch++
	c.mu.Unlock()
}

type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}

func (c *Cache) Close() error { return c.store.Close() }

func cloneRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

package drive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mosacloud/drive/internal/metrics"
)

// ErrMismatch is returned when the backend answers for an item other
// than the one asked for. Such answers are never cached.
var ErrMismatch = errors.New("response does not match requested item")

type cacheEntry struct {
	value      any
	expires    time.Time
	lastAccess time.Time
}

// CachedLookup wraps a Lookup with a short-lived per-caller cache and
// collapses concurrent identical lookups into one backend call.
type CachedLookup struct {
	next    Lookup
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewCachedLookup creates a cache in front of next. A ttl of zero
// disables caching but keeps request collapsing.
func NewCachedLookup(next Lookup, ttl time.Duration, maxSize int) *CachedLookup {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &CachedLookup{
		next:    next,
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
	}
}

// Item implements Lookup.
func (c *CachedLookup) Item(ctx context.Context, id string) (*Item, error) {
	v, err := c.do(ctx, "item:"+id, func(ctx context.Context) (any, error) {
		item, err := c.next.Item(ctx, id)
		if err != nil {
			return nil, err
		}
		if item.ID != id {
			return nil, fmt.Errorf("item %s: got %s: %w", id, item.ID, ErrMismatch)
		}
		return item, nil
	})
	if err != nil {
		return nil, err
	}
	item := *v.(*Item)
	return &item, nil
}

// Ancestors implements Lookup.
func (c *CachedLookup) Ancestors(ctx context.Context, id string) ([]Breadcrumb, error) {
	v, err := c.do(ctx, "breadcrumb:"+id, func(ctx context.Context) (any, error) {
		chain, err := c.next.Ancestors(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(chain) > 0 && chain[len(chain)-1].ID != id {
			return nil, fmt.Errorf("breadcrumb %s: leaf %s: %w", id, chain[len(chain)-1].ID, ErrMismatch)
		}
		return chain, nil
	})
	if err != nil {
		return nil, err
	}
	chain := v.([]Breadcrumb)
	return append([]Breadcrumb(nil), chain...), nil
}

// CurrentUser implements Lookup.
func (c *CachedLookup) CurrentUser(ctx context.Context) (*User, error) {
	v, err := c.do(ctx, "user", func(ctx context.Context) (any, error) {
		return c.next.CurrentUser(ctx)
	})
	if err != nil {
		return nil, err
	}
	user := *v.(*User)
	return &user, nil
}

// Forget drops every cached record about id for all callers.
func (c *CachedLookup) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasSuffix(key, ":item:"+id) || strings.HasSuffix(key, ":breadcrumb:"+id) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached records.
func (c *CachedLookup) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *CachedLookup) do(ctx context.Context, suffix string, fetch func(context.Context) (any, error)) (any, error) {
	key := CredentialsFrom(ctx).Fingerprint() + ":" + suffix

	if v, ok := c.get(key); ok {
		metrics.RecordCache(true)
		return v, nil
	}
	metrics.RecordCache(false)

	// The shared call must not die with whichever caller started it.
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := fetch(context.WithoutCancel(ctx))
		if err == nil {
			c.put(key, v)
		}
		return v, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *CachedLookup) get(key string) (any, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	entry.lastAccess = now
	return entry.value, true
}

func (c *CachedLookup) put(key string, v any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.entries) >= c.maxSize {
		if !c.evictOldest() {
			break
		}
	}
	now := c.now()
	c.entries[key] = &cacheEntry{value: v, expires: now.Add(c.ttl), lastAccess: now}
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *CachedLookup) evictOldest() bool {
	var oldestKey string
	var oldest *cacheEntry
	for key, entry := range c.entries {
		if oldest == nil || entry.lastAccess.Before(oldest.lastAccess) {
			oldest = entry
			oldestKey = key
		}
	}
	if oldest == nil {
		return false
	}
	delete(c.entries, oldestKey)
	return true
}

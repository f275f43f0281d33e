// Package credential caches backend credentials in memory and on disk,
// refreshing them lazily and at most once at a time.
package credential

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tis24dev/panbackup/internal/logging"
	"golang.org/x/sync/singleflight"
)

// Credential is a persisted token or session.
type Credential interface {
	// Usable reports whether the credential can be used without refreshing.
	Usable(now time.Time) bool
}

// RefreshFunc obtains a fresh credential. prev is the last known
// credential (expired or rejected) or nil when none exists; flows that
// support it use prev to refresh without user interaction.
type RefreshFunc[T Credential] func(ctx context.Context, prev *T) (T, error)

// Cache hands out a valid credential for one backend account.
type Cache[T Credential] struct {
	name    string
	logger  *logging.Logger
	store   Store[T]
	refresh RefreshFunc[T]
	now     func() time.Time

	mu       sync.Mutex
	loaded   bool
	current  *T
	rejected bool
	flight   singleflight.Group
}

// NewCache builds a cache. now may be nil.
func NewCache[T Credential](name string, logger *logging.Logger, store Store[T], refresh RefreshFunc[T], now func() time.Time) *Cache[T] {
	if now == nil {
		now = time.Now
	}
	return &Cache[T]{
		name:    name,
		logger:  logger,
		store:   store,
		refresh: refresh,
		now:     now,
	}
}

// Get returns a usable credential, loading it from the store on first use
// and refreshing it when absent, expired or rejected. Concurrent callers
// share a single refresh.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	c.loadLocked()
	if c.current != nil && !c.rejected && (*c.current).Usable(c.now()) {
		value := *c.current
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do("refresh", func() (interface{}, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate marks rejected as refused by the server. The next Get refreshes
// it and passes it to the refresh flow. A rejection of a credential that has
// already been replaced is ignored, so callers that shared one credential
// trigger a single refresh between them.
func (c *Cache[T]) Invalidate(rejected T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !sameAs(&rejected, *c.current) {
		c.logger.Debug("Ignoring rejection of a superseded %s credential", c.name)
		return
	}
	if !c.rejected {
		c.logger.Debug("%s credential invalidated", c.name)
	}
	c.rejected = true
}

func (c *Cache[T]) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	value, ok, err := c.store.Load()
	if err != nil {
		c.logger.Warning("Ignoring unreadable %s credential state: %v", c.name, err)
		return
	}
	if ok {
		c.current = &value
	}
}

func (c *Cache[T]) doRefresh(ctx context.Context) (T, error) {
	var zero T

	// A concurrent caller may have finished a refresh between our check and
	// entering the flight.
	c.mu.Lock()
	if c.current != nil && !c.rejected && (*c.current).Usable(c.now()) {
		value := *c.current
		c.mu.Unlock()
		return value, nil
	}
	var prev *T
	if c.current != nil {
		p := *c.current
		prev = &p
	}
	wasRejected := c.rejected
	c.mu.Unlock()

	if locker, ok := c.store.(Locker); ok {
		unlock, err := locker.Lock(ctx)
		if err != nil {
			c.logger.Warning("Refreshing %s credential without file lock: %v", c.name, err)
		} else {
			defer unlock()
			// Another process may have refreshed while we waited.
			if value, ok, err := c.store.Load(); err == nil && ok && value.Usable(c.now()) && !(wasRejected && sameAs(prev, value)) {
				c.logger.Debug("Using %s credential refreshed by another process", c.name)
				c.set(value)
				return value, nil
			}
		}
	}

	c.logger.Debug("Refreshing %s credential", c.name)
	value, err := c.refresh(ctx, prev)
	if err != nil {
		return zero, err
	}
	c.set(value)

	if err := c.store.Save(value); err != nil {
		c.logger.Warning("Could not persist %s credential, next run will authenticate again: %v", c.name, err)
	}
	return value, nil
}

func (c *Cache[T]) set(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &value
	c.rejected = false
	c.loaded = true
}

// sameAs compares by JSON-visible identity: a reload that returns the
// credential the server just rejected must not be reused.
func sameAs[T Credential](prev *T, value T) bool {
	if prev == nil {
		return false
	}
	a, errA := marshalIdentity(*prev)
	b, errB := marshalIdentity(value)
	return errA == nil && errB == nil && a == b
}

func marshalIdentity(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

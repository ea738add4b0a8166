// Package cache stores at most one enrichment result per record id.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/historian/internal/enrich"
	"github.com/kalambet/historian/internal/storage"
)

// Backend is the durable side of the cache. It is authoritative: the
// in-memory index only mirrors what has been read or written this session.
type Backend interface {
	Load(ctx context.Context, id string) (enrich.Result, bool, error)
	Store(ctx context.Context, id string, r enrich.Result) error
	All(ctx context.Context) (map[string]enrich.Result, error)
	Clear(ctx context.Context) error
}

// Items is the named-item storage used for the fingerprint and by
// ItemBackend.
type Items interface {
	GetItem(key string) (string, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Cache fronts a Backend with a process-wide index.
type Cache struct {
	mu      sync.RWMutex
	mem     map[string]enrich.Result
	epoch   uint64 // bumped by Clear; a load from an older epoch is not kept
	backend Backend
	items   Items
	logger  *slog.Logger
}

// New returns a Cache over backend. items holds the provider fingerprint.
func New(backend Backend, items Items) *Cache {
	return &Cache{
		mem:     make(map[string]enrich.Result),
		backend: backend,
		items:   items,
		logger:  slog.Default(),
	}
}

// Get returns the stored result for id. Memory is consulted first; a miss
// falls through to the backend and hydrates memory.
func (c *Cache) Get(ctx context.Context, id string) (enrich.Result, bool, error) {
	c.mu.RLock()
	r, ok := c.mem[id]
	epoch := c.epoch
	c.mu.RUnlock()
	if ok {
		return r, true, nil
	}

	r, ok, err := c.backend.Load(ctx, id)
	if err != nil {
		return enrich.Result{}, false, fmt.Errorf("loading cached result %s: %w", id, err)
	}
	if !ok {
		return enrich.Result{}, false, nil
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.mem[id] = r
	}
	c.mu.Unlock()
	return r, true, nil
}

// Has reports whether a result is stored for id.
func (c *Cache) Has(ctx context.Context, id string) (bool, error) {
	_, ok, err := c.Get(ctx, id)
	return ok, err
}

// Put replaces any stored result for id. The backend is written first so a
// reload always sees what memory has.
func (c *Cache) Put(ctx context.Context, id string, r enrich.Result) error {
	if err := c.backend.Store(ctx, id, r); err != nil {
		return fmt.Errorf("storing result %s: %w", id, err)
	}
	c.mu.Lock()
	c.mem[id] = r
	c.mu.Unlock()
	return nil
}

// All returns every durable result keyed by record id.
func (c *Cache) All(ctx context.Context) (map[string]enrich.Result, error) {
	return c.backend.All(ctx)
}

// Clear wipes memory and the backend. Memory is wiped again once the
// backend is empty so a load that raced the clear cannot leave a result
// behind.
func (c *Cache) Clear(ctx context.Context) error {
	c.reset()
	err := c.backend.Clear(ctx)
	c.reset()
	if err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

func (c *Cache) reset() {
	c.mu.Lock()
	c.mem = make(map[string]enrich.Result)
	c.epoch++
	c.mu.Unlock()
}

// EnsureFingerprint clears the cache when fp differs from the stored
// fingerprint and records fp. It reports whether a clear happened.
func (c *Cache) EnsureFingerprint(ctx context.Context, fp string) (bool, error) {
	prev, err := c.items.GetItem(storage.KeyAIFingerprint)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("reading fingerprint: %w", err)
	}
	if err == nil && prev == fp {
		return false, nil
	}

	// A first run with no fingerprint only records it.
	cleared := false
	if err == nil {
		if err := c.Clear(ctx); err != nil {
			return false, err
		}
		cleared = true
		c.logger.Info("text generation provider changed, cache cleared")
	}
	if err := c.items.SetItem(storage.KeyAIFingerprint, fp); err != nil {
		return cleared, fmt.Errorf("writing fingerprint: %w", err)
	}
	return cleared, nil
}

// Package cache provides a read-through organization cache in front of the
// store. Organization override rows are read on every capability resolution,
// so they are kept hot with a short TTL and invalidated explicitly when an
// admin mutates them.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"caremesh.org/internal/auth"
)

// Config sizes the underlying ristretto cache.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

// DefaultConfig suits a few thousand organizations.
func DefaultConfig() Config {
	return Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
		TTL:         30 * time.Second,
	}
}

// Organizations implements auth.OrganizationSource over a backing store.
type Organizations struct {
	store auth.OrganizationStore
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewOrganizations builds the cache. The zero-value Config falls back to
// DefaultConfig.
func NewOrganizations(store auth.OrganizationStore, cfg Config) (*Organizations, error) {
	def := DefaultConfig()
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = def.NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = def.MaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = def.BufferItems
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Organizations{store: store, cache: c, ttl: cfg.TTL}, nil
}

var _ auth.OrganizationSource = (*Organizations)(nil)

// Find returns the organization from cache, falling back to the store.
// Errors, including not-found, are never cached.
func (o *Organizations) Find(ctx context.Context, id string) (*auth.Organization, error) {
	if v, ok := o.cache.Get(id); ok {
		if org, ok := v.(*auth.Organization); ok {
			return org, nil
		}
	}
	org, err := o.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	o.cache.SetWithTTL(id, org, 1, o.ttl)
	return org, nil
}

// Invalidate drops the cached entry so the next Find sees fresh overrides.
func (o *Organizations) Invalidate(id string) {
	o.cache.Del(id)
}

// Wait flushes pending cache writes. Tests use it before asserting hits.
func (o *Organizations) Wait() {
	o.cache.Wait()
}

// Close releases cache resources.
func (o *Organizations) Close() {
	o.cache.Close()
}

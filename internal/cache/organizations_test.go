package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"caremesh.org/internal/auth"
)

type countingOrgStore struct {
	mu    sync.Mutex
	finds int
	orgs  map[string]*auth.Organization
}

func (c *countingOrgStore) Create(ctx context.Context, o *auth.Organization) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orgs[o.ID] = o
	return nil
}

func (c *countingOrgStore) Find(ctx context.Context, id string) (*auth.Organization, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds++
	o, ok := c.orgs[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return o, nil
}

func (c *countingOrgStore) UpdateOverrides(ctx context.Context, id string, allow, deny []auth.Capability) (*auth.Organization, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orgs[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	o.CapabilityAllow = allow
	o.CapabilityDeny = deny
	return o, nil
}

func (c *countingOrgStore) findCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finds
}

func newCountingStore() *countingOrgStore {
	return &countingOrgStore{orgs: map[string]*auth.Organization{
		"org-1": {ID: "org-1", Name: "North Clinic"},
	}}
}

func TestFindServesFromCacheAfterFirstHit(t *testing.T) {
	store := newCountingStore()
	orgs, err := NewOrganizations(store, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewOrganizations: %v", err)
	}
	defer orgs.Close()
	ctx := context.Background()

	if _, err := orgs.Find(ctx, "org-1"); err != nil {
		t.Fatalf("first Find: %v", err)
	}
	orgs.Wait()

	if _, err := orgs.Find(ctx, "org-1"); err != nil {
		t.Fatalf("second Find: %v", err)
	}
	if got := store.findCount(); got != 1 {
		t.Fatalf("expected one store read, got %d", got)
	}
}

func TestInvalidateForcesFreshRead(t *testing.T) {
	store := newCountingStore()
	orgs, err := NewOrganizations(store, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewOrganizations: %v", err)
	}
	defer orgs.Close()
	ctx := context.Background()

	if _, err := orgs.Find(ctx, "org-1"); err != nil {
		t.Fatalf("Find: %v", err)
	}
	orgs.Wait()

	if _, err := store.UpdateOverrides(ctx, "org-1", []auth.Capability{auth.CapRxFulfill}, nil); err != nil {
		t.Fatalf("UpdateOverrides: %v", err)
	}
	orgs.Invalidate("org-1")

	got, err := orgs.Find(ctx, "org-1")
	if err != nil {
		t.Fatalf("Find after invalidate: %v", err)
	}
	if len(got.CapabilityAllow) != 1 || got.CapabilityAllow[0] != auth.CapRxFulfill {
		t.Fatalf("stale read after invalidation: %+v", got)
	}
	if store.findCount() != 2 {
		t.Fatalf("expected a fresh store read, got %d", store.findCount())
	}
}

func TestNotFoundIsNeverCached(t *testing.T) {
	store := newCountingStore()
	orgs, err := NewOrganizations(store, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewOrganizations: %v", err)
	}
	defer orgs.Close()
	ctx := context.Background()

	if _, err := orgs.Find(ctx, "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	orgs.Wait()

	store.orgs["ghost"] = &auth.Organization{ID: "ghost"}
	if _, err := orgs.Find(ctx, "ghost"); err != nil {
		t.Fatalf("created org must become visible: %v", err)
	}
}

package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Members() MemberStore
	Organizations() OrganizationStore
	Sessions() SessionStore

	// RoleCapabilities loads the deployed role-bundle table.
	RoleCapabilities(ctx context.Context) (RoleCapabilityTable, error)
}

// MemberStore manages principals.
type MemberStore interface {
	Create(ctx context.Context, m *Member) error
	Find(ctx context.Context, id string) (*Member, error)
	FindByEmail(ctx context.Context, email string) (*Member, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Member, error)
	UpdateRole(ctx context.Context, id string, role Role) (*Member, error)
	UpdateOverrides(ctx context.Context, id string, allow, deny []Capability) (*Member, error)
	SetPlatformOwner(ctx context.Context, id string, owner bool) (*Member, error)
	UpdateStatus(ctx context.Context, id, status string) (*Member, error)
}

// OrganizationStore manages tenants.
type OrganizationStore interface {
	Create(ctx context.Context, o *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	UpdateOverrides(ctx context.Context, id string, allow, deny []Capability) (*Organization, error)
}

// SessionStore manages session rows. Absence of a row is equivalent to an
// invalid session; expiry is lazy.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByTokenHash(ctx context.Context, hash string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// OrganizationSource is the read path used during capability resolution.
// A caching implementation must drop an entry when Invalidate is called.
type OrganizationSource interface {
	Find(ctx context.Context, id string) (*Organization, error)
	Invalidate(id string)
}

// storeOrgSource adapts OrganizationStore to OrganizationSource.
type storeOrgSource struct {
	store OrganizationStore
}

func (s storeOrgSource) Find(ctx context.Context, id string) (*Organization, error) {
	return s.store.Find(ctx, id)
}

func (s storeOrgSource) Invalidate(string) {}

// Package memory is an in-process implementation of the auth, rx and audit
// store interfaces, used for unit tests and DSN-less development runs. The
// Postgres store is the durable twin.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"caremesh.org/internal/audit"
	"caremesh.org/internal/auth"
	"caremesh.org/internal/rx"
)

// Store holds everything behind one lock: contention is irrelevant at the
// scale this twin serves, and a single critical section gives the same
// per-record atomicity the Postgres store gets from its transactions.
type Store struct {
	mu sync.RWMutex

	members  map[string]*auth.Member
	byEmail  map[string]string // email -> member id
	orgs     map[string]*auth.Organization
	sessions map[string]*auth.Session // id -> session
	byHash   map[string]string        // token hash -> session id
	roles    auth.RoleCapabilityTable

	prescriptions map[string]*rx.Prescription
	rxWrites      map[string]int

	auditLog []audit.Event
}

// New creates an empty store backed by the default role bundles.
func New() *Store {
	return &Store{
		members:       make(map[string]*auth.Member),
		byEmail:       make(map[string]string),
		orgs:          make(map[string]*auth.Organization),
		sessions:      make(map[string]*auth.Session),
		byHash:        make(map[string]string),
		roles:         auth.DefaultRoleCapabilities(),
		prescriptions: make(map[string]*rx.Prescription),
		rxWrites:      make(map[string]int),
	}
}

var _ auth.Store = (*Store)(nil)
var _ rx.Store = (*Store)(nil)
var _ audit.Store = (*Store)(nil)

func (s *Store) Members() auth.MemberStore             { return (*memberStore)(s) }
func (s *Store) Organizations() auth.OrganizationStore { return (*orgStore)(s) }
func (s *Store) Sessions() auth.SessionStore           { return (*sessionStore)(s) }

func (s *Store) RoleCapabilities(ctx context.Context) (auth.RoleCapabilityTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table := make(auth.RoleCapabilityTable, len(s.roles))
	for role, caps := range s.roles {
		table[role] = slices.Clone(caps)
	}
	return table, nil
}

// SetRoleCapabilities replaces the role table (test hook for the
// bundles-as-data behavior).
func (s *Store) SetRoleCapabilities(table auth.RoleCapabilityTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = table
}

func cloneMember(m *auth.Member) *auth.Member {
	out := *m
	out.CapabilityAllow = slices.Clone(m.CapabilityAllow)
	out.CapabilityDeny = slices.Clone(m.CapabilityDeny)
	return &out
}

func cloneOrg(o *auth.Organization) *auth.Organization {
	out := *o
	out.CapabilityAllow = slices.Clone(o.CapabilityAllow)
	out.CapabilityDeny = slices.Clone(o.CapabilityDeny)
	return &out
}

func cloneRx(p *rx.Prescription) *rx.Prescription {
	out := *p
	if p.FilledAt != nil {
		filled := *p.FilledAt
		out.FilledAt = &filled
	}
	return &out
}

type memberStore Store

func (s *memberStore) Create(ctx context.Context, m *auth.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[m.Email]; exists {
		return fmt.Errorf("%w: email already registered", auth.ErrConflict)
	}
	s.members[m.ID] = cloneMember(m)
	s.byEmail[m.Email] = m.ID
	return nil
}

func (s *memberStore) Find(ctx context.Context, id string) (*auth.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneMember(m), nil
}

func (s *memberStore) FindByEmail(ctx context.Context, email string) (*auth.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneMember(s.members[id]), nil
}

func (s *memberStore) ListByOrg(ctx context.Context, orgID string) ([]*auth.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*auth.Member
	for _, m := range s.members {
		if m.OrganizationID == orgID {
			out = append(out, cloneMember(m))
		}
	}
	return out, nil
}

func (s *memberStore) update(id string, fn func(*auth.Member)) (*auth.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	fn(m)
	m.UpdatedAt = time.Now().UTC()
	return cloneMember(m), nil
}

func (s *memberStore) UpdateRole(ctx context.Context, id string, role auth.Role) (*auth.Member, error) {
	return s.update(id, func(m *auth.Member) { m.Role = role })
}

func (s *memberStore) UpdateOverrides(ctx context.Context, id string, allow, deny []auth.Capability) (*auth.Member, error) {
	return s.update(id, func(m *auth.Member) {
		m.CapabilityAllow = slices.Clone(allow)
		m.CapabilityDeny = slices.Clone(deny)
	})
}

func (s *memberStore) SetPlatformOwner(ctx context.Context, id string, owner bool) (*auth.Member, error) {
	return s.update(id, func(m *auth.Member) { m.IsPlatformOwner = owner })
}

func (s *memberStore) UpdateStatus(ctx context.Context, id, status string) (*auth.Member, error) {
	return s.update(id, func(m *auth.Member) { m.Status = status })
}

type orgStore Store

func (s *orgStore) Create(ctx context.Context, o *auth.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[o.ID] = cloneOrg(o)
	return nil
}

func (s *orgStore) Find(ctx context.Context, id string) (*auth.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneOrg(o), nil
}

func (s *orgStore) UpdateOverrides(ctx context.Context, id string, allow, deny []auth.Capability) (*auth.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	o.CapabilityAllow = slices.Clone(allow)
	o.CapabilityDeny = slices.Clone(deny)
	o.UpdatedAt = time.Now().UTC()
	return cloneOrg(o), nil
}

type sessionStore Store

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.sessions[sess.ID] = &copied
	s.byHash[sess.TokenHash] = sess.ID
	return nil
}

func (s *sessionStore) FindByTokenHash(ctx context.Context, hash string) (*auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	copied := *s.sessions[id]
	return &copied, nil
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	sess.LastUsedAt = at
	return nil
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	delete(s.byHash, sess.TokenHash)
	delete(s.sessions, id)
	return nil
}

func (s *sessionStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(before) {
			delete(s.byHash, sess.TokenHash)
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Create(ctx context.Context, p *rx.Prescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prescriptions[p.ID] = cloneRx(p)
	s.rxWrites[p.ID]++
	return nil
}

func (s *Store) Find(ctx context.Context, id string) (*rx.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, rx.ErrNotFound
	}
	return cloneRx(p), nil
}

func (s *Store) ListByPatient(ctx context.Context, patientID string) ([]*rx.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rx.Prescription
	for _, p := range s.prescriptions {
		if p.PatientID == patientID {
			out = append(out, cloneRx(p))
		}
	}
	return out, nil
}

// Transition holds the lock across the legality check and the write, so the
// check always runs against the currently stored status.
func (s *Store) Transition(ctx context.Context, id string, requested rx.Status, at time.Time) (*rx.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, rx.ErrNotFound
	}
	if err := rx.CheckTransition(p.Status, requested); err != nil {
		return nil, err
	}
	p.Status = requested
	p.UpdatedAt = at
	if requested == rx.StatusReady && p.FilledAt == nil {
		filled := at
		p.FilledAt = &filled
	}
	s.rxWrites[id]++
	return cloneRx(p), nil
}

func (s *Store) Cancel(ctx context.Context, id string, at time.Time) (*rx.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, rx.ErrNotFound
	}
	if !rx.Cancellable(p.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", rx.ErrIllegalTransition, p.Status, rx.StatusCancelled)
	}
	p.Status = rx.StatusCancelled
	p.UpdatedAt = at
	s.rxWrites[id]++
	return cloneRx(p), nil
}

// WriteCount reports how many writes ever hit the prescription (test hook
// for the exactly-one-write-per-transition property).
func (s *Store) WriteCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rxWrites[id]
}

func (s *Store) Append(ctx context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLog = append(s.auditLog, *e)
	return nil
}

// AuditEntries returns a copy of the append-only log (test hook).
func (s *Store) AuditEntries() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.auditLog)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"caremesh.org/internal/audit"
	"caremesh.org/internal/ids"
)

const defaultSessionTTL = 12 * time.Hour

// Service provides session validation, capability enforcement and the
// audited administrative mutations that adjust principals and tenants.
type Service struct {
	store Store
	orgs  OrganizationSource
	audit *audit.Recorder
	roles RoleCapabilityTable

	now        func() time.Time
	sessionTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithRoleTable injects the deployed role-bundle table.
func WithRoleTable(table RoleCapabilityTable) ServiceOption {
	return func(s *Service) error {
		if len(table) > 0 {
			s.roles = table
		}
		return nil
	}
}

// WithOrganizationSource routes capability-resolution org reads through the
// given source (typically the ristretto-backed cache).
func WithOrganizationSource(src OrganizationSource) ServiceOption {
	return func(s *Service) error {
		if src != nil {
			s.orgs = src
		}
		return nil
	}
}

// WithAuditRecorder wires the audit sink.
func WithAuditRecorder(rec *audit.Recorder) ServiceOption {
	return func(s *Service) error {
		s.audit = rec
		return nil
	}
}

// NewService constructs a Service. The role table defaults to the built-in
// bundles; cmd/api replaces it with the table loaded from the store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	svc := &Service{
		store:      store,
		orgs:       storeOrgSource{store: store.Organizations()},
		roles:      DefaultRoleCapabilities(),
		now:        time.Now,
		sessionTTL: defaultSessionTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// RoleTable returns the table the resolver runs against.
func (s *Service) RoleTable() RoleCapabilityTable { return s.roles }

// memberOrg loads the member's own organization, or nil when unaffiliated.
// A dangling reference resolves to nil: absent and empty override lists are
// equivalent in every resolution step.
func (s *Service) memberOrg(ctx context.Context, member *Member) (*Organization, error) {
	if member == nil || member.OrganizationID == "" {
		return nil, nil
	}
	org, err := s.orgs.Find(ctx, member.OrganizationID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return org, nil
}

// EffectiveCapabilities resolves the member's effective set against the
// deployed role table and the member's own org overrides.
func (s *Service) EffectiveCapabilities(ctx context.Context, member *Member) (CapabilitySet, error) {
	if member == nil {
		return nil, fmt.Errorf("%w: member is required", ErrInvalidInput)
	}
	org, err := s.memberOrg(ctx, member)
	if err != nil {
		return nil, err
	}
	return ResolveEffectiveCapabilities(member, org, s.roles)
}

// RequireCap is the policy enforcement point for a single capability.
func (s *Service) RequireCap(ctx context.Context, member *Member, cap Capability) error {
	if member == nil {
		return ErrUnauthorized
	}
	org, err := s.memberOrg(ctx, member)
	if err != nil {
		return err
	}
	return RequireCap(member, org, s.roles, cap)
}

// RequireAnyCap enforces that the member holds at least one of caps.
func (s *Service) RequireAnyCap(ctx context.Context, member *Member, caps ...Capability) error {
	if member == nil {
		return ErrUnauthorized
	}
	org, err := s.memberOrg(ctx, member)
	if err != nil {
		return err
	}
	return RequireAnyCap(member, org, s.roles, caps...)
}

// RequireOrgMember enforces the tenancy guard.
func (s *Service) RequireOrgMember(member *Member, organizationID string) error {
	return RequireOrgMember(member, organizationID)
}

// Login verifies credentials and mints an opaque session token for an
// active member. The returned token is the only copy; the store keeps the
// hash.
func (s *Service) Login(ctx context.Context, email, password string) (string, *Session, *Member, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", nil, nil, ErrUnauthorized
	}
	member, err := s.store.Members().FindByEmail(ctx, email)
	if err != nil {
		return "", nil, nil, ErrUnauthorized
	}
	if member.Status != MemberStatusActive {
		return "", nil, nil, ErrUnauthorized
	}
	if err := VerifyPassword(member.PasswordHash, password); err != nil {
		return "", nil, nil, ErrUnauthorized
	}

	token, hash, err := mintSessionToken()
	if err != nil {
		return "", nil, nil, err
	}
	now := s.now().UTC()
	session := &Session{
		ID:         ids.New(),
		MemberID:   member.ID,
		TokenHash:  hash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.sessionTTL),
		LastUsedAt: now,
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return "", nil, nil, err
	}
	return token, session, member, nil
}

// Logout destroys the session behind token. Unknown tokens are a no-op:
// the session is gone either way.
func (s *Service) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	session, err := s.store.Sessions().FindByTokenHash(ctx, HashSessionToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.Sessions().Delete(ctx, session.ID)
}

// Authenticate resolves a bearer token to its member. It answers only "who
// is making this call": no capability logic lives here. Absent, expired and
// orphaned sessions are all UNAUTHORIZED. On success the session's
// last_used_at is touched best-effort; expiry is never extended.
func (s *Service) Authenticate(ctx context.Context, token string) (*Member, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	session, err := s.store.Sessions().FindByTokenHash(ctx, HashSessionToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if session.Expired(now) {
		return nil, ErrUnauthorized
	}
	member, err := s.store.Members().Find(ctx, session.MemberID)
	if errors.Is(err, ErrNotFound) {
		// A valid-looking session whose principal is gone must never
		// authenticate.
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if member.Status != MemberStatusActive {
		return nil, ErrUnauthorized
	}
	_ = s.store.Sessions().Touch(ctx, session.ID, now)
	return member, nil
}

// NewMemberInput describes a member to onboard.
type NewMemberInput struct {
	OrganizationID string
	Email          string
	Password       string
	Role           Role
}

// CreateMember onboards a principal. Requires USER_MANAGE, plus the tenancy
// guard when the new member is org-scoped.
func (s *Service) CreateMember(ctx context.Context, actor *Member, input NewMemberInput) (*Member, error) {
	if err := s.RequireCap(ctx, actor, CapUserManage); err != nil {
		return nil, err
	}
	if input.OrganizationID != "" {
		if err := RequireOrgMember(actor, input.OrganizationID); err != nil {
			return nil, err
		}
	}
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	role := input.Role
	if role == "" {
		role = RoleUnverified
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %s", ErrInvalidInput, role)
	}
	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	member := &Member{
		ID:             ids.New(),
		OrganizationID: input.OrganizationID,
		Email:          email,
		PasswordHash:   hash,
		Role:           role,
		Status:         MemberStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Members().Create(ctx, member); err != nil {
		return nil, err
	}
	s.record(ctx, "auth.member.create", actor, member.ID, map[string]string{
		"email": email,
		"role":  string(role),
		"org":   input.OrganizationID,
	}, true, "")
	return member, nil
}

// CreateOrganization provisions a tenant. Requires ORG_MANAGE.
func (s *Service) CreateOrganization(ctx context.Context, actor *Member, name string) (*Organization, error) {
	if err := s.RequireCap(ctx, actor, CapOrgManage); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	org := &Organization{
		ID:        ids.New(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Organizations().Create(ctx, org); err != nil {
		return nil, err
	}
	s.record(ctx, "auth.org.create", actor, org.ID, map[string]string{"name": name}, true, "")
	return org, nil
}

// SetMemberRole changes a member's primary role. Requires USER_MANAGE;
// denials are audited because role changes are sensitive.
func (s *Service) SetMemberRole(ctx context.Context, actor *Member, memberID string, role Role) (*Member, error) {
	if err := s.RequireCap(ctx, actor, CapUserManage); err != nil {
		s.record(ctx, "auth.member.role_change", actor, memberID, nil, false, err.Error())
		return nil, err
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %s", ErrInvalidInput, role)
	}
	before, err := s.store.Members().Find(ctx, memberID)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.Members().UpdateRole(ctx, memberID, role)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "auth.member.role_change", actor, memberID, map[string]string{
		"role_old": string(before.Role),
		"role_new": string(role),
	}, true, "")
	return updated, nil
}

// SetMemberOverrides replaces a member's allow/deny lists. Requires
// USER_MANAGE. Tags outside the defined universe are rejected.
func (s *Service) SetMemberOverrides(ctx context.Context, actor *Member, memberID string, allow, deny []Capability) (*Member, error) {
	if err := s.RequireCap(ctx, actor, CapUserManage); err != nil {
		s.record(ctx, "auth.member.overrides", actor, memberID, nil, false, err.Error())
		return nil, err
	}
	if err := ValidateCapabilities(allow); err != nil {
		return nil, err
	}
	if err := ValidateCapabilities(deny); err != nil {
		return nil, err
	}
	updated, err := s.store.Members().UpdateOverrides(ctx, memberID, allow, deny)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "auth.member.overrides", actor, memberID, map[string]string{
		"allow": joinCaps(allow),
		"deny":  joinCaps(deny),
	}, true, "")
	return updated, nil
}

// SetOrganizationOverrides replaces a tenant's allow/deny lists. Requires
// ORG_MANAGE. The cached org entry is dropped so the next resolution sees
// the new lists.
func (s *Service) SetOrganizationOverrides(ctx context.Context, actor *Member, orgID string, allow, deny []Capability) (*Organization, error) {
	if err := s.RequireCap(ctx, actor, CapOrgManage); err != nil {
		s.record(ctx, "auth.org.overrides", actor, orgID, nil, false, err.Error())
		return nil, err
	}
	if err := ValidateCapabilities(allow); err != nil {
		return nil, err
	}
	if err := ValidateCapabilities(deny); err != nil {
		return nil, err
	}
	updated, err := s.store.Organizations().UpdateOverrides(ctx, orgID, allow, deny)
	if err != nil {
		return nil, err
	}
	s.orgs.Invalidate(orgID)
	s.record(ctx, "auth.org.overrides", actor, orgID, map[string]string{
		"allow": joinCaps(allow),
		"deny":  joinCaps(deny),
	}, true, "")
	return updated, nil
}

// SetPlatformOwner grants or revokes the global bypass flag. Only an
// existing platform owner may flip it, and both outcomes are audited: this
// operation is the single way the flag ever changes.
func (s *Service) SetPlatformOwner(ctx context.Context, actor *Member, memberID string, owner bool) (*Member, error) {
	if actor == nil {
		s.record(ctx, "auth.platform_owner.set", actor, memberID, nil, false, "unauthenticated")
		return nil, ErrUnauthorized
	}
	if !actor.IsPlatformOwner {
		err := fmt.Errorf("%w: platform owner grant requires a platform owner", ErrForbidden)
		s.record(ctx, "auth.platform_owner.set", actor, memberID, nil, false, err.Error())
		return nil, err
	}
	updated, err := s.store.Members().SetPlatformOwner(ctx, memberID, owner)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "auth.platform_owner.set", actor, memberID, map[string]string{
		"is_platform_owner": fmt.Sprintf("%t", owner),
	}, true, "")
	return updated, nil
}

// ListOrgMembers returns a tenant's members. Requires USER_MANAGE plus the
// tenancy guard: admins only ever see their own organization.
func (s *Service) ListOrgMembers(ctx context.Context, actor *Member, orgID string) ([]*Member, error) {
	if err := s.RequireCap(ctx, actor, CapUserManage); err != nil {
		return nil, err
	}
	if err := RequireOrgMember(actor, orgID); err != nil {
		return nil, err
	}
	return s.store.Members().ListByOrg(ctx, orgID)
}

// PurgeExpiredSessions removes sessions past their expiry. Expiry checks are
// lazy; this keeps the table from growing without bound.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.Sessions().DeleteExpired(ctx, s.now().UTC())
}

// DisableMember soft-disables a principal; members are never hard-deleted.
// Requires USER_MANAGE.
func (s *Service) DisableMember(ctx context.Context, actor *Member, memberID string) (*Member, error) {
	if err := s.RequireCap(ctx, actor, CapUserManage); err != nil {
		s.record(ctx, "auth.member.disable", actor, memberID, nil, false, err.Error())
		return nil, err
	}
	updated, err := s.store.Members().UpdateStatus(ctx, memberID, MemberStatusDisabled)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "auth.member.disable", actor, memberID, nil, true, "")
	return updated, nil
}

func (s *Service) record(ctx context.Context, action string, actor *Member, targetID string, diff map[string]string, success bool, reason string) {
	if s.audit == nil {
		return
	}
	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}
	s.audit.Record(ctx, audit.Event{
		Action:   action,
		ActorID:  actorID,
		TargetID: targetID,
		Diff:     diff,
		Success:  success,
		Reason:   reason,
	})
}

func joinCaps(caps []Capability) string {
	parts := make([]string, 0, len(caps))
	for _, c := range caps {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, ",")
}

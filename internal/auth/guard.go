package auth

import "fmt"

// The guard functions below are the only legitimate entry points for
// operations touching capability- or tenant-scoped data. Authentication
// precedes authorization: an absent identity is always UNAUTHORIZED, never
// FORBIDDEN. Success is silent.

// RequireCap fails unless the member's effective set contains cap.
func RequireCap(member *Member, org *Organization, table RoleCapabilityTable, cap Capability) error {
	if member == nil {
		return ErrUnauthorized
	}
	set, err := ResolveEffectiveCapabilities(member, org, table)
	if err != nil {
		return err
	}
	if !set.Has(cap) {
		return fmt.Errorf("%w: missing capability %s", ErrForbidden, cap)
	}
	return nil
}

// RequireAnyCap fails unless the member holds at least one of caps.
func RequireAnyCap(member *Member, org *Organization, table RoleCapabilityTable, caps ...Capability) error {
	if member == nil {
		return ErrUnauthorized
	}
	set, err := ResolveEffectiveCapabilities(member, org, table)
	if err != nil {
		return err
	}
	if !set.HasAny(caps...) {
		return fmt.Errorf("%w: missing capability", ErrForbidden)
	}
	return nil
}

// RequireOrgMember fails unless the member belongs to exactly the given
// organization. Any mismatch, including no organization versus a concrete
// one, is FORBIDDEN. Platform owners bypass the check unconditionally.
func RequireOrgMember(member *Member, organizationID string) error {
	if member == nil {
		return ErrUnauthorized
	}
	if member.IsPlatformOwner {
		return nil
	}
	if member.OrganizationID != organizationID {
		return fmt.Errorf("%w: organization scope mismatch", ErrForbidden)
	}
	return nil
}

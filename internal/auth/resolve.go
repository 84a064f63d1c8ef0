package auth

import (
	"fmt"
	"sort"
)

// CapabilitySet is a resolved effective permission set.
type CapabilitySet map[Capability]struct{}

// Has reports membership of cap in the set.
func (s CapabilitySet) Has(cap Capability) bool {
	_, ok := s[cap]
	return ok
}

// HasAny reports whether at least one of caps is present.
func (s CapabilitySet) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// Sorted returns the set as a stable slice.
func (s CapabilitySet) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s CapabilitySet) add(caps []Capability) {
	for _, c := range caps {
		s[c] = struct{}{}
	}
}

func (s CapabilitySet) remove(caps []Capability) {
	for _, c := range caps {
		delete(s, c)
	}
}

// ResolveEffectiveCapabilities computes the effective set for a member.
// Layering: role bundle, union org allow, union member allow, subtract org
// deny, subtract member deny. The subtractions run last, so a deny at any
// layer removes the capability no matter which layer granted it. A platform
// owner holds the entire universe and skips the layering; the boolean flag
// is the only signal for that bypass.
//
// org must be the member's own organization (or nil when unaffiliated); the
// lists of any other tenant never apply. A nil member is an input error, not
// an empty set.
func ResolveEffectiveCapabilities(member *Member, org *Organization, table RoleCapabilityTable) (CapabilitySet, error) {
	if member == nil {
		return nil, fmt.Errorf("%w: member is required", ErrInvalidInput)
	}
	if org != nil && org.ID != member.OrganizationID {
		return nil, fmt.Errorf("%w: organization %s is not the member's organization", ErrInvalidInput, org.ID)
	}

	set := make(CapabilitySet)
	if member.IsPlatformOwner {
		set.add(AllCapabilities())
		return set, nil
	}

	set.add(table[member.Role])
	if org != nil {
		set.add(org.CapabilityAllow)
	}
	set.add(member.CapabilityAllow)
	if org != nil {
		set.remove(org.CapabilityDeny)
	}
	set.remove(member.CapabilityDeny)
	return set, nil
}

// MemberHasCap tests membership of cap in the member's effective set.
func MemberHasCap(member *Member, org *Organization, table RoleCapabilityTable, cap Capability) (bool, error) {
	set, err := ResolveEffectiveCapabilities(member, org, table)
	if err != nil {
		return false, err
	}
	return set.Has(cap), nil
}

package auth

import (
	"errors"
	"testing"
)

func member(role Role) *Member {
	return &Member{ID: "m-1", Email: "m@example.org", Role: role, Status: MemberStatusActive}
}

func TestResolveRoleBundles(t *testing.T) {
	table := DefaultRoleCapabilities()
	cases := []struct {
		role Role
		want []Capability
	}{
		{RoleUnverified, nil},
		{RolePatient, []Capability{CapRxView}},
		{RoleProvider, []Capability{CapRxView, CapRxWrite, CapPatientManage, CapPatientViewAny}},
		{RoleNurse, []Capability{CapRxView, CapPatientViewAny}},
		{RolePharmacy, []Capability{CapRxView, CapRxFulfill}},
		{RoleBilling, []Capability{CapBillingManage}},
		{RoleAdmin, AllCapabilities()},
	}
	for _, tc := range cases {
		set, err := ResolveEffectiveCapabilities(member(tc.role), nil, table)
		if err != nil {
			t.Fatalf("%s: resolve: %v", tc.role, err)
		}
		if len(set) != len(tc.want) {
			t.Fatalf("%s: expected %d capabilities, got %v", tc.role, len(tc.want), set.Sorted())
		}
		for _, c := range tc.want {
			if !set.Has(c) {
				t.Fatalf("%s: missing %s", tc.role, c)
			}
		}
	}
}

func TestResolveDenyWinsOverEveryGrant(t *testing.T) {
	table := DefaultRoleCapabilities()

	// Bundle grant removed by member deny.
	m := member(RolePharmacy)
	m.CapabilityDeny = []Capability{CapRxFulfill}
	set, err := ResolveEffectiveCapabilities(m, nil, table)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if set.Has(CapRxFulfill) {
		t.Fatal("member deny did not remove bundle capability")
	}
	if !set.Has(CapRxView) {
		t.Fatal("unrelated capability was removed")
	}

	// Org allow grant removed by org deny.
	m = member(RolePatient)
	m.OrganizationID = "org-1"
	org := &Organization{
		ID:              "org-1",
		CapabilityAllow: []Capability{CapRxWrite},
		CapabilityDeny:  []Capability{CapRxWrite},
	}
	set, err = ResolveEffectiveCapabilities(m, org, table)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if set.Has(CapRxWrite) {
		t.Fatal("org deny did not beat org allow")
	}

	// Member allow removed by org deny: the subtraction runs last regardless
	// of which layer granted.
	m = member(RolePatient)
	m.OrganizationID = "org-1"
	m.CapabilityAllow = []Capability{CapAuditView}
	org = &Organization{ID: "org-1", CapabilityDeny: []Capability{CapAuditView}}
	set, err = ResolveEffectiveCapabilities(m, org, table)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if set.Has(CapAuditView) {
		t.Fatal("org deny did not beat member allow")
	}
}

func TestResolveMemberAllowAddsToBundle(t *testing.T) {
	m := member(RoleNurse)
	m.CapabilityAllow = []Capability{CapRxFulfill}
	set, err := ResolveEffectiveCapabilities(m, nil, DefaultRoleCapabilities())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !set.Has(CapRxFulfill) || !set.Has(CapRxView) {
		t.Fatalf("expected union of bundle and member allow, got %v", set.Sorted())
	}
}

func TestResolvePlatformOwnerHoldsUniverse(t *testing.T) {
	m := member(RoleUnverified)
	m.IsPlatformOwner = true
	m.CapabilityDeny = []Capability{CapRxView}
	set, err := ResolveEffectiveCapabilities(m, nil, DefaultRoleCapabilities())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, c := range AllCapabilities() {
		if !set.Has(c) {
			t.Fatalf("platform owner missing %s", c)
		}
	}
}

func TestResolveAdminLookingEmailGrantsNothing(t *testing.T) {
	m := member(RolePatient)
	m.Email = "admin@example.org"
	set, err := ResolveEffectiveCapabilities(m, nil, DefaultRoleCapabilities())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if set.Has(CapUserManage) || set.Has(CapOrgManage) {
		t.Fatal("identity attributes must not grant capabilities")
	}
}

func TestResolveRejectsNilMember(t *testing.T) {
	if _, err := ResolveEffectiveCapabilities(nil, nil, DefaultRoleCapabilities()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestResolveRejectsForeignOrganization(t *testing.T) {
	m := member(RolePatient)
	m.OrganizationID = "org-1"
	other := &Organization{ID: "org-2", CapabilityAllow: []Capability{CapRxWrite}}
	if _, err := ResolveEffectiveCapabilities(m, other, DefaultRoleCapabilities()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for foreign org, got %v", err)
	}
}

func TestResolveUnknownRoleResolvesEmpty(t *testing.T) {
	m := member(Role("ghost"))
	set, err := ResolveEffectiveCapabilities(m, nil, DefaultRoleCapabilities())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("unknown role must resolve to the empty set, got %v", set.Sorted())
	}
}

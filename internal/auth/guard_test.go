package auth

import (
	"errors"
	"testing"
)

func TestRequireCapNilMemberIsUnauthorized(t *testing.T) {
	err := RequireCap(nil, nil, DefaultRoleCapabilities(), CapRxView)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatal("nil member must never be FORBIDDEN")
	}
}

func TestRequireCapMissingIsForbidden(t *testing.T) {
	err := RequireCap(member(RolePatient), nil, DefaultRoleCapabilities(), CapRxWrite)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestRequireCapPresentIsSilent(t *testing.T) {
	if err := RequireCap(member(RoleProvider), nil, DefaultRoleCapabilities(), CapRxWrite); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestRequireAnyCap(t *testing.T) {
	table := DefaultRoleCapabilities()
	if err := RequireAnyCap(member(RolePharmacy), nil, table, CapRxFulfill, CapRxWrite); err != nil {
		t.Fatalf("pharmacy holds RX_FULFILL: %v", err)
	}
	if err := RequireAnyCap(member(RoleProvider), nil, table, CapRxFulfill, CapRxWrite); err != nil {
		t.Fatalf("provider holds RX_WRITE: %v", err)
	}
	if err := RequireAnyCap(member(RolePatient), nil, table, CapRxFulfill, CapRxWrite); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if err := RequireAnyCap(nil, nil, table, CapRxFulfill); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

func TestRequireOrgMember(t *testing.T) {
	m := member(RoleProvider)
	m.OrganizationID = "org-1"

	if err := RequireOrgMember(m, "org-1"); err != nil {
		t.Fatalf("exact match must pass: %v", err)
	}
	if err := RequireOrgMember(m, "org-2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("mismatch must be FORBIDDEN, got %v", err)
	}
	if err := RequireOrgMember(m, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("affiliated member against no org must be FORBIDDEN, got %v", err)
	}

	unaffiliated := member(RoleProvider)
	if err := RequireOrgMember(unaffiliated, "org-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unaffiliated member against concrete org must be FORBIDDEN, got %v", err)
	}

	if err := RequireOrgMember(nil, "org-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("nil member must be UNAUTHORIZED, got %v", err)
	}

	owner := member(RoleUnverified)
	owner.IsPlatformOwner = true
	if err := RequireOrgMember(owner, "org-999"); err != nil {
		t.Fatalf("platform owner bypasses tenancy: %v", err)
	}
}

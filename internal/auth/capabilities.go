package auth

// Capability is an atomic permission tag. Tags are flat: never hierarchical,
// never parameterized. External consumers reference these constants, not
// role names, so role bundles can change without breaking callers.
type Capability string

const (
	CapRxView         Capability = "RX_VIEW"
	CapRxWrite        Capability = "RX_WRITE"
	CapRxFulfill      Capability = "RX_FULFILL"
	CapPatientManage  Capability = "PATIENT_MANAGE"
	CapPatientViewAny Capability = "PATIENT_VIEW_ANY"
	CapUserManage     Capability = "USER_MANAGE"
	CapOrgManage      Capability = "ORG_MANAGE"
	CapBillingManage  Capability = "BILLING_MANAGE"
	CapAuditView      Capability = "AUDIT_VIEW"
)

// AllCapabilities returns the full capability universe in stable order.
func AllCapabilities() []Capability {
	return []Capability{
		CapRxView,
		CapRxWrite,
		CapRxFulfill,
		CapPatientManage,
		CapPatientViewAny,
		CapUserManage,
		CapOrgManage,
		CapBillingManage,
		CapAuditView,
	}
}

// ValidCapability reports whether c is a defined tag.
func ValidCapability(c Capability) bool {
	for _, known := range AllCapabilities() {
		if c == known {
			return true
		}
	}
	return false
}

// ValidateCapabilities rejects any tag outside the defined universe. Override
// lists are attacker-reachable input; arbitrary strings never enter the store.
func ValidateCapabilities(caps []Capability) error {
	for _, c := range caps {
		if !ValidCapability(c) {
			return &Error{Code: CodeInvalidInput, Message: "auth: unknown capability " + string(c)}
		}
	}
	return nil
}

// RoleCapabilityTable maps each role to its baseline capability bundle.
// The deployed table is data (role_capabilities), not a compiled constant;
// DefaultRoleCapabilities seeds it and backs stores without one.
type RoleCapabilityTable map[Role][]Capability

// DefaultRoleCapabilities returns the built-in role bundles. unverified is
// always empty and admin always spans the full universe.
func DefaultRoleCapabilities() RoleCapabilityTable {
	return RoleCapabilityTable{
		RoleUnverified: {},
		RolePatient:    {CapRxView},
		RoleProvider:   {CapRxView, CapRxWrite, CapPatientManage, CapPatientViewAny},
		RoleNurse:      {CapRxView, CapPatientViewAny},
		RolePharmacy:   {CapRxView, CapRxFulfill},
		RoleBilling:    {CapBillingManage},
		RoleAdmin:      AllCapabilities(),
	}
}

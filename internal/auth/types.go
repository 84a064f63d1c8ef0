package auth

import "time"

// Role is a member's single primary role.
type Role string

const (
	RoleUnverified Role = "unverified"
	RolePatient    Role = "patient"
	RoleProvider   Role = "provider"
	RoleNurse      Role = "nurse"
	RolePharmacy   Role = "pharmacy"
	RoleBilling    Role = "billing"
	RoleAdmin      Role = "admin"
)

// Roles lists every defined role.
func Roles() []Role {
	return []Role{RoleUnverified, RolePatient, RoleProvider, RoleNurse, RolePharmacy, RoleBilling, RoleAdmin}
}

// ValidRole reports whether r is a defined role.
func ValidRole(r Role) bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

const (
	MemberStatusActive   = "active"
	MemberStatusDisabled = "disabled"
)

// Member is a principal: a human or service account the engine authorizes.
// IsPlatformOwner is the only signal that grants the global bypass; it is
// mutated solely by Service.SetPlatformOwner and never inferred from email,
// role, or org membership. Members are soft-disabled, never hard-deleted.
type Member struct {
	ID              string       `json:"id"`
	OrganizationID  string       `json:"organization_id,omitempty"` // empty when unaffiliated
	Email           string       `json:"email"`
	PasswordHash    string       `json:"-"`
	Role            Role         `json:"role"`
	CapabilityAllow []Capability `json:"capability_allow,omitempty"`
	CapabilityDeny  []Capability `json:"capability_deny,omitempty"`
	IsPlatformOwner bool         `json:"is_platform_owner"`
	Status          string       `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Organization is the tenant boundary. Its override lists apply to every
// member whose OrganizationID references it, and only to those.
type Organization struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	CapabilityAllow []Capability `json:"capability_allow,omitempty"`
	CapabilityDeny  []Capability `json:"capability_deny,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Session ties an opaque bearer token (stored as a SHA-256 hash) to a member.
// A session is valid only while now < ExpiresAt and the member still exists;
// validation refreshes LastUsedAt but never extends ExpiresAt.
type Session struct {
	ID         string    `json:"id"`
	MemberID   string    `json:"member_id"`
	TokenHash  string    `json:"-"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

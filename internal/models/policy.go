package models

// Capability names an action class gated by the access policy.
type Capability string

const (
	CapManageCatalog        Capability = "catalog:manage"
	CapManageSessions       Capability = "sessions:manage"
	CapViewAllRegistrations Capability = "registrations:view_all"
	CapEditRegistration     Capability = "registrations:edit"
	CapReviewRegistration   Capability = "registrations:review"
	CapAppendSignature      Capability = "registrations:sign"
	CapCleanupRegistrations Capability = "registrations:cleanup"
	CapExportRegistrations  Capability = "registrations:export"
)

// capabilityRoles maps each capability to the roles allowed to use it. The
// staff flag on a user overrides every entry, mirroring the admin backdoor
// the portal has always had.
var capabilityRoles = map[Capability]map[UserRole]struct{}{
	CapManageCatalog:        roleSet(RoleRegistrationOfficer, RoleHOD),
	CapManageSessions:       roleSet(RoleRegistrationOfficer, RoleHOD),
	CapViewAllRegistrations: roleSet(RoleRegistrationOfficer, RoleHOD, RoleSchoolOfficer),
	CapEditRegistration:     roleSet(RoleRegistrationOfficer, RoleHOD),
	CapReviewRegistration:   roleSet(RoleRegistrationOfficer, RoleHOD),
	CapAppendSignature:      roleSet(RoleRegistrationOfficer, RoleHOD, RoleSchoolOfficer),
	CapCleanupRegistrations: roleSet(RoleRegistrationOfficer, RoleHOD),
	CapExportRegistrations:  roleSet(RoleRegistrationOfficer, RoleHOD),
}

func roleSet(roles ...UserRole) map[UserRole]struct{} {
	set := make(map[UserRole]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Allows reports whether the claims grant the capability.
func Allows(claims *JWTClaims, cap Capability) bool {
	if claims == nil {
		return false
	}
	if claims.Staff {
		return true
	}
	allowed, ok := capabilityRoles[cap]
	if !ok {
		return false
	}
	_, ok = allowed[claims.Role]
	return ok
}

// IsAdmin reports whether the claims belong to an administrative actor: any
// officer role or the staff override.
func IsAdmin(claims *JWTClaims) bool {
	if claims == nil {
		return false
	}
	if claims.Staff {
		return true
	}
	switch claims.Role {
	case RoleRegistrationOfficer, RoleHOD, RoleSchoolOfficer:
		return true
	}
	return false
}

// CanAccessRegistration applies the self-or-admin rule for a registration
// owned by ownerID.
func CanAccessRegistration(claims *JWTClaims, ownerID string) bool {
	if claims == nil {
		return false
	}
	if claims.UserID == ownerID {
		return true
	}
	return IsAdmin(claims)
}

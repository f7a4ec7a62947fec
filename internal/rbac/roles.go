package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
	RoleSuperAdmin = "super_admin"
	RoleAuditor    = "auditor" // hidden role, read-only
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleAuditor }

// Operators drive the seat: device, calls, campaign controls.
var Operators = []string{RoleOwner, RoleSupervisor, RoleAgent}

// Managers may start and stop campaigns and read the audit trail.
var Managers = []string{RoleOwner, RoleSupervisor}

// Known reports whether role is one of the defined roles.
func Known(role string) bool {
	switch role {
	case RoleOwner, RoleSupervisor, RoleAgent, RoleSuperAdmin, RoleAuditor:
		return true
	}
	return false
}

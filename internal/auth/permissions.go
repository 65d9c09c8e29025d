package auth

type Permission string

const (
	// PermMotion covers motion commands and realtime signals.
	PermMotion Permission = "motion"
	// PermHome covers homing and unlocking.
	PermHome Permission = "home"
	// PermSetup covers check mode and configuration reads.
	PermSetup Permission = "setup"
)

const (
	RoleOperator   = "operator"
	RoleTechnician = "technician"
	RoleAdmin      = "admin"
)

var rolePermissions = map[string][]Permission{
	RoleOperator:   {PermMotion},
	RoleTechnician: {PermMotion, PermHome},
	RoleAdmin:      {PermMotion, PermHome, PermSetup},
}

// RolePermissions returns the permissions granted to a role.
func RolePermissions(role string) []Permission {
	return rolePermissions[role]
}

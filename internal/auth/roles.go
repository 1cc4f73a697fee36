package auth

// Role represents an operator role for role-based access control
type Role string

const (
	// RoleOperator has full access to all admin endpoints, including
	// version activation, rollback and cache management
	RoleOperator Role = "operator"

	// RoleViewer has read-only access to admin endpoints
	RoleViewer Role = "viewer"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	switch r {
	case RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role has permission for a required role.
// Operators have all permissions, viewers only viewer permissions.
func (r Role) HasPermission(required Role) bool {
	if r == RoleOperator {
		return true
	}
	return r == required
}

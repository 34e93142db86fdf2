package auth

import "errors"

// Role represents an authorisation tier for API callers.
type Role string

const (
	// RoleUser is a companion app or in-cabin display. Can read state and
	// adjust volumes.
	RoleUser Role = "user"

	// RoleBench is a test rig identity. Everything user can do plus key
	// event injection.
	RoleBench Role = "bench"

	// RoleAdmin is diagnostic and provisioning tooling. Full access.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleUser, RoleBench, RoleAdmin}

// IsValidRole returns true if the role is one the coordinator recognises.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// CanInjectKeys returns true if the role may post synthetic key events.
func (r Role) CanInjectKeys() bool {
	return r == RoleBench || r == RoleAdmin
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)

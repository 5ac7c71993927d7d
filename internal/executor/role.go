package executor

import (
	"fmt"
	"strings"

	cerrors "github.com/mrz1836/conductor/internal/errors"
)

// Role names a capability an executor provides. Roles come from a fixed
// enumerated set; plans naming anything else are rejected.
type Role string

// Known executor roles.
const (
	RoleBackend  Role = "backend"
	RoleFrontend Role = "frontend"
	RoleDatabase Role = "database"
	RoleQA       Role = "qa"
	RoleDevOps   Role = "devops"
	RoleDocs     Role = "docs"
	RoleReview   Role = "review"
	RoleShell    Role = "shell"
)

// String returns the string representation of the Role.
func (r Role) String() string {
	return string(r)
}

// AllRoles returns every known role in a stable order.
func AllRoles() []Role {
	return []Role{
		RoleBackend,
		RoleFrontend,
		RoleDatabase,
		RoleQA,
		RoleDevOps,
		RoleDocs,
		RoleReview,
		RoleShell,
	}
}

// ParseRole converts s to a Role. Matching ignores case and surrounding
// whitespace. Unknown names return ErrUnknownRole.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, r := range AllRoles() {
		if string(r) == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", cerrors.ErrUnknownRole, s)
}

// ValidateRole reports whether s names a known role.
func ValidateRole(s string) error {
	_, err := ParseRole(s)
	return err
}

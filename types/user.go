package types

import "strings"

// Role indicates the user's authorization level within the tracker.
type Role string

const (
	// RoleCoach has full administrative access, including user management.
	RoleCoach Role = "coach"

	// RoleSpecialist can administer devices but cannot manage users.
	RoleSpecialist Role = "specialist"

	// RoleAthlete can only check out and return its own devices.
	RoleAthlete Role = "athlete"
)

// ParseRole normalizes a role name and reports whether it is known.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	return role, role.Valid()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCoach, RoleSpecialist, RoleAthlete:
		return true
	default:
		return false
	}
}

// CanManageUsers reports whether the role may create, edit and remove users.
func (r Role) CanManageUsers() bool {
	return r == RoleCoach
}

// CanManageDevices reports whether the role may assign and return devices
// on behalf of other users and read the full history.
func (r Role) CanManageDevices() bool {
	return r == RoleCoach || r == RoleSpecialist
}

// User represents an account in the tracker.
type User struct {
	// ID is the employee identifier: 1 to 6 digits. Leading zeros are
	// significant, so the ID is always handled as a string.
	ID string `json:"id" db:"id"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Role determines what the user may do.
	Role Role `json:"role" db:"role"`

	// FirstName is the user's given name.
	FirstName string `json:"first_name" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"last_name" db:"last_name"`
}

// FullName joins first and last name, skipping empty parts.
func (u User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// UserPatch carries the optional fields of a profile edit. The password is
// intentionally absent: it only changes through a password reset.
type UserPatch struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Role      *Role   `json:"role,omitempty"`
}

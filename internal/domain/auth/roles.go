package auth

import "strings"

// Role represents an application's authorization role.
// Keep string form for easy persistence.
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// Role hierarchy: User < Moderator < Admin.
//
//nolint:gochecknoglobals // static read-only lookup
var roleRanks = map[Role]int{
	RoleUser:      0,
	RoleModerator: 1,
	RoleAdmin:     2,
}

// ParseRole normalises a role string. Unrecognized values fail closed to RoleUser.
func ParseRole(s string) Role {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := roleRanks[r]; ok {
		return r
	}
	return RoleUser
}

// Rank returns the position of r in the hierarchy. Unknown roles rank as RoleUser.
func Rank(r Role) int {
	if rank, ok := roleRanks[r]; ok {
		return rank
	}
	return roleRanks[RoleUser]
}

// Satisfies reports whether a principal holding actual may access something
// that requires required.
func Satisfies(actual, required Role) bool {
	return Rank(actual) >= Rank(required)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Roles returns all roles from lowest to highest privilege.
func Roles() []Role {
	return []Role{RoleUser, RoleModerator, RoleAdmin}
}

package authroles

import (
	"strings"

	domainauth "github.com/target/portal-session/internal/domain/auth"
)

// StaticRoleMapper maps backend role names by simple membership rules.
// Names are compared case-insensitively. Anything unmatched falls through to
// domainauth.ParseRole, which fails closed to USER.
type StaticRoleMapper struct {
	AdminNames     []string
	ModeratorNames []string
}

func (m StaticRoleMapper) Map(raw string) domainauth.Role {
	name := strings.TrimSpace(raw)
	for _, n := range m.AdminNames {
		if n != "" && strings.EqualFold(n, name) {
			return domainauth.RoleAdmin
		}
	}
	for _, n := range m.ModeratorNames {
		if n != "" && strings.EqualFold(n, name) {
			return domainauth.RoleModerator
		}
	}
	return domainauth.ParseRole(name)
}

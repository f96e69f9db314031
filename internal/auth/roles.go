package auth

import "strings"

// UserRole is a tier in the distribution hierarchy.
type UserRole string

const (
	RoleHQ          UserRole = "hq"
	RoleMasterAgent UserRole = "master_agent"
	RoleAgent       UserRole = "agent"
	RoleBranch      UserRole = "branch"
	RoleMarketer    UserRole = "marketer"
)

var roleRank = map[UserRole]int{
	RoleHQ:          0,
	RoleMasterAgent: 1,
	RoleAgent:       2,
	RoleBranch:      3,
	RoleMarketer:    4,
}

func ParseRole(value string) (UserRole, bool) {
	role := UserRole(strings.ToLower(strings.TrimSpace(value)))
	_, ok := roleRank[role]
	return role, ok
}

// Outranks reports whether r sits above other in the hierarchy.
func (r UserRole) Outranks(other UserRole) bool {
	a, okA := roleRank[r]
	b, okB := roleRank[other]
	return okA && okB && a < b
}

func (r UserRole) IsHQ() bool {
	return r == RoleHQ
}

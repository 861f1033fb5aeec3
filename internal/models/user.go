package models

import "strings"

// UserRole represents the roles the assistant can scope data for.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleAccountant UserRole = "ACCOUNTANT"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
	RoleParent     UserRole = "PARENT"
)

// AllRoles lists every role in binding precedence order.
func AllRoles() []UserRole {
	return []UserRole{RoleAdmin, RoleAccountant, RoleTeacher, RoleStudent, RoleParent}
}

// ParseRole maps a raw role name onto a known role.
func ParseRole(raw string) (UserRole, bool) {
	candidate := UserRole(strings.ToUpper(strings.TrimSpace(raw)))
	for _, role := range AllRoles() {
		if role == candidate {
			return role, true
		}
	}
	return "", false
}

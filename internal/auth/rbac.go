package auth

import "errors"

// ErrPermissionDenied is returned when the caller lacks a permission.
var ErrPermissionDenied = errors.New("permission denied")

// Permission represents an action that can be performed.
type Permission string

const (
	// PermissionManageTemplates allows uploading, renaming and deleting templates.
	PermissionManageTemplates Permission = "manage_templates"
	// PermissionViewTemplates allows listing templates.
	PermissionViewTemplates Permission = "view_templates"
	// PermissionBuild allows starting builds and reading one's own jobs and artifacts.
	PermissionBuild Permission = "build"
)

// Role is derived from the admin flag.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionManageTemplates,
		PermissionViewTemplates,
		PermissionBuild,
	},
	RoleUser: {
		PermissionViewTemplates,
		PermissionBuild,
	},
}

// RoleOf returns the role carried by claims.
func RoleOf(c *Claims) Role {
	if c != nil && c.IsAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// CheckRolePermission checks whether role grants permission.
func CheckRolePermission(role Role, permission Permission) error {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return nil
		}
	}
	return ErrPermissionDenied
}

// Authorize checks whether the caller holds permission.
func Authorize(c *Claims, permission Permission) error {
	if c == nil {
		return ErrPermissionDenied
	}
	return CheckRolePermission(RoleOf(c), permission)
}

// CanAccessOwned reports whether the caller owns a resource. Jobs and
// artifacts are private to their owner, admins included.
func CanAccessOwned(c *Claims, ownerID string) bool {
	return c != nil && ownerID != "" && c.UserID == ownerID
}

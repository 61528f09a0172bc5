package auth

import "slices"

// Permission is a named capability checked by the API layer.
type Permission string

const (
	PermBusView     Permission = "bus:view"
	PermLevelWrite  Permission = "level:write"
	PermMasterWrite Permission = "master:write"
	PermMixerReset  Permission = "mixer:reset"
	PermUserManage  Permission = "user:manage"
	PermNameManage  Permission = "name:manage"
	PermAuditRead   Permission = "audit:read"
)

// rolePermissions is the whole authorisation table. Bus scoping for
// regular users is applied on top by CanAccessBus.
var rolePermissions = map[Role][]Permission{
	RoleRegular: {
		PermBusView,
		PermLevelWrite,
	},
	RoleAdmin: {
		PermBusView,
		PermLevelWrite,
		PermMasterWrite,
		PermMixerReset,
		PermUserManage,
		PermNameManage,
		PermAuditRead,
	},
}

// HasPermission reports whether role grants perm. Unknown roles grant
// nothing.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the role's permissions.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}

// CanAccessBus reports whether a user with role and the given grants may
// view and adjust bus. Admins are never bus-scoped.
func CanAccessBus(role Role, grants []int, bus int) bool {
	if role == RoleAdmin {
		return true
	}
	return slices.Contains(grants, bus)
}

// AccessibleBuses filters all down to the buses the caller may see,
// preserving order.
func AccessibleBuses(role Role, grants []int, all []int) []int {
	out := make([]int, 0, len(all))
	for _, bus := range all {
		if CanAccessBus(role, grants, bus) {
			out = append(out, bus)
		}
	}
	return out
}

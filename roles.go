package identity

// Role is a user's trust level. Roles form a strict order:
// RoleUser < RoleAdmin < RoleSuperAdmin.
type Role = string

const (
	// RoleUser is the default role assigned at registration.
	RoleUser Role = "user"
	// RoleAdmin may operate the admin facade on regular users.
	RoleAdmin Role = "admin"
	// RoleSuperAdmin may additionally grant the admin role and above.
	RoleSuperAdmin Role = "super-admin"
)

var roleHierarchy = map[Role]int{
	RoleUser:       0,
	RoleAdmin:      1,
	RoleSuperAdmin: 2,
}

// IsValidRole checks whether role is one of the predefined roles.
func IsValidRole(role Role) bool {
	_, ok := roleHierarchy[role]
	return ok
}

// RoleAtLeast reports whether role meets the minimum required level. Unknown
// roles never satisfy any threshold.
func RoleAtLeast(role, min Role) bool {
	current, ok := roleHierarchy[role]
	if !ok {
		return false
	}
	required, ok := roleHierarchy[min]
	if !ok {
		return false
	}
	return current >= required
}

// RolesInOrder returns the predefined roles from least to most privileged.
func RolesInOrder() []Role {
	return []Role{RoleUser, RoleAdmin, RoleSuperAdmin}
}

// ParseRole safely parses a string into a Role.
func ParseRole(raw string) (Role, bool) {
	role := Role(raw)
	return role, IsValidRole(role)
}

// Permission is a fine-grained (resource, action) grant.
type Permission struct {
	Resource string
	Action   string
}

// PermissionSet maps roles to their explicit grants. Grants are not inherited
// up the hierarchy: a role holds exactly what its entry lists, so super-admin
// does not implicitly receive custom permissions that were never granted.
type PermissionSet map[Role][]Permission

// DefaultPermissions returns the built-in grant table. Callers can extend or
// replace it through Config.Permissions.
func DefaultPermissions() PermissionSet {
	return PermissionSet{
		RoleUser: {
			{Resource: "profile", Action: "read"},
			{Resource: "profile", Action: "edit"},
			{Resource: "session", Action: "revoke-own"},
		},
		RoleAdmin: {
			{Resource: "profile", Action: "read"},
			{Resource: "profile", Action: "edit"},
			{Resource: "session", Action: "revoke-own"},
			{Resource: "user", Action: "ban"},
			{Resource: "user", Action: "set-role"},
			{Resource: "user", Action: "impersonate"},
			{Resource: "session", Action: "revoke"},
			{Resource: "session", Action: "list"},
		},
		RoleSuperAdmin: {
			{Resource: "profile", Action: "read"},
			{Resource: "profile", Action: "edit"},
			{Resource: "session", Action: "revoke-own"},
			{Resource: "user", Action: "ban"},
			{Resource: "user", Action: "set-role"},
			{Resource: "user", Action: "impersonate"},
			{Resource: "user", Action: "delete"},
			{Resource: "session", Action: "revoke"},
			{Resource: "session", Action: "list"},
		},
	}
}

// Allows reports whether role holds the (resource, action) grant. This check
// is independent of the coarse role threshold: gated operations pick whichever
// of the two fits.
func (p PermissionSet) Allows(role Role, resource, action string) bool {
	for _, grant := range p[role] {
		if grant.Resource == resource && grant.Action == action {
			return true
		}
	}
	return false
}

// RequireRole gates an operation behind a minimum role. The Auth must come
// from SessionManager.Resolve, which already re-validated the session; this
// only applies the threshold.
func RequireRole(auth *Auth, min Role) error {
	if auth == nil || auth.User == nil {
		return ErrSessionRevoked
	}
	if !RoleAtLeast(auth.Role, min) {
		return ErrForbidden.WithMetadata(map[string]any{
			"required_role": min,
			"actual_role":   auth.Role,
		})
	}
	return nil
}

// CheckPermission gates an operation behind a fine-grained grant.
func CheckPermission(auth *Auth, perms PermissionSet, resource, action string) error {
	if auth == nil || auth.User == nil {
		return ErrSessionRevoked
	}
	if !perms.Allows(auth.Role, resource, action) {
		return ErrForbidden.WithMetadata(map[string]any{
			"resource": resource,
			"action":   action,
			"role":     auth.Role,
		})
	}
	return nil
}

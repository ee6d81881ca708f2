package rbac

import "slices"

// RoleName identifies a role. It is the natural key of custom roles.
type RoleName = string

// Permission represents an atomic grant. Fields are always concrete values,
// never wildcards.
type Permission struct {
	Resource string `json:"resource" validate:"required,max=64,permtoken"`
	Action   string `json:"action" validate:"required,max=64,permtoken"`
	Scope    string `json:"scope" validate:"required,max=64,permtoken"`
}

// String renders the permission as resource.action:scope.
func (p Permission) String() string {
	return p.Resource + "." + p.Action + ":" + p.Scope
}

// RolePermissions is the full grant set of a role. Order is kept for display
// and audit diffs but carries no authorization meaning.
//
// A nil Permissions slice (absent or null in JSON) means the role
// inherits its built-in definition; an empty non-nil slice grants nothing.
type RolePermissions struct {
	Permissions []Permission `json:"permissions" validate:"omitempty,dive"`
}

// Inherits reports whether the config leaves permissions to the built-in role.
func (rp RolePermissions) Inherits() bool {
	return rp.Permissions == nil
}

// Clone returns a deep copy preserving the nil/empty distinction.
func (rp RolePermissions) Clone() RolePermissions {
	if rp.Permissions == nil {
		return RolePermissions{}
	}
	return RolePermissions{Permissions: slices.Clone(rp.Permissions)}
}

// Has reports whether the exact triple is granted.
func (rp RolePermissions) Has(resource, action, scope string) bool {
	return slices.Contains(rp.Permissions, Permission{Resource: resource, Action: action, Scope: scope})
}

// Empty reports whether the set grants nothing.
func (rp RolePermissions) Empty() bool {
	return len(rp.Permissions) == 0
}

// Equal compares the two grant sets ignoring order and duplicates.
func (rp RolePermissions) Equal(other RolePermissions) bool {
	a := toSet(rp.Permissions)
	b := toSet(other.Permissions)
	if len(a) != len(b) {
		return false
	}
	for p := range a {
		if _, ok := b[p]; !ok {
			return false
		}
	}
	return true
}

func toSet(perms []Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

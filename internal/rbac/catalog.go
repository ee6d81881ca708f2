package rbac

// AdminRoleName is the role guaranteed to exist after initialization.
const AdminRoleName RoleName = "Admin"

// Core resources covered by the fail-safe Admin role.
const (
	ResourceUsers     = "users"
	ResourceRoles     = "roles"
	ResourceCustomers = "customers"
	ResourceJobs      = "jobs"
	ResourceEquipment = "equipment"
)

// Portal resources outside the fail-safe core.
const (
	ResourceVehicles       = "vehicles"
	ResourceCertifications = "certifications"
	ResourceDocuments      = "documents"
	ResourceSchedules      = "schedules"
)

// Actions.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

// Scopes.
const (
	ScopeAll      = "all"
	ScopeDivision = "division"
	ScopeOwn      = "own"
)

// CoreResources lists the resources granted by the fail-safe Admin role, in display order.
func CoreResources() []string {
	return []string{ResourceUsers, ResourceRoles, ResourceCustomers, ResourceJobs, ResourceEquipment}
}

// PortalResources lists every resource known to the portals.
func PortalResources() []string {
	return append(CoreResources(), ResourceVehicles, ResourceCertifications, ResourceDocuments, ResourceSchedules)
}

// Actions lists the known actions in display order.
func Actions() []string {
	return []string{ActionView, ActionCreate, ActionEdit, ActionDelete}
}

// Scopes lists the known scopes from broadest to narrowest.
func Scopes() []string {
	return []string{ScopeAll, ScopeDivision, ScopeOwn}
}

// DefaultAdminPermissions returns the hardcoded full-permission set used when
// the remote policy store cannot be read. Every triple is enumerated.
func DefaultAdminPermissions() RolePermissions {
	resources := CoreResources()
	actions := Actions()
	perms := make([]Permission, 0, len(resources)*len(actions))
	for _, resource := range resources {
		for _, action := range actions {
			perms = append(perms, Permission{Resource: resource, Action: action, Scope: ScopeAll})
		}
	}
	return RolePermissions{Permissions: perms}
}

// Builtins resolves partial role configs against built-in definitions.
type Builtins map[RoleName]RolePermissions

// DefaultBuiltins returns the built-in roles known to the engine. Only Admin
// is assumed; deployments may register more.
func DefaultBuiltins() Builtins {
	return Builtins{AdminRoleName: DefaultAdminPermissions()}
}

// Resolve fills an inheriting config from the built-in role of the same name.
// Unknown roles that inherit resolve to an empty grant set.
func (b Builtins) Resolve(name RoleName, cfg RolePermissions) RolePermissions {
	if !cfg.Inherits() {
		return cfg.Clone()
	}
	if builtin, ok := b[name]; ok {
		return builtin.Clone()
	}
	return RolePermissions{Permissions: []Permission{}}
}

package rbac

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Cache is the process-local source of truth consulted by authorization
// checks. It may lag the remote policy store; it never blocks on I/O.
type Cache struct {
	mu    sync.RWMutex
	roles map[RoleName]RolePermissions
	ready atomic.Bool
}

// NewCache returns an empty, not yet ready cache.
func NewCache() *Cache {
	return &Cache{roles: make(map[RoleName]RolePermissions)}
}

// Get returns the permission set for the role. Unknown roles yield an
// explicit empty set, never the nil "inherit" form.
func (c *Cache) Get(name RoleName) RolePermissions {
	cfg, _ := c.Lookup(name)
	return cfg
}

// Lookup is Get with a presence flag.
func (c *Cache) Lookup(name RoleName) (RolePermissions, bool) {
	c.mu.RLock()
	cfg, ok := c.roles[name]
	c.mu.RUnlock()
	if !ok {
		return denyAll(), false
	}
	return cfg.Clone(), true
}

func denyAll() RolePermissions {
	return RolePermissions{Permissions: []Permission{}}
}

// Set replaces the whole permission set of the role.
func (c *Cache) Set(name RoleName, cfg RolePermissions) {
	stored := cfg.Clone()
	if stored.Inherits() {
		stored = denyAll()
	}
	c.mu.Lock()
	c.roles[name] = stored
	c.mu.Unlock()
}

// Allows reports whether the role grants the exact triple.
func (c *Cache) Allows(name RoleName, resource, action, scope string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.roles[name]
	if !ok {
		return false
	}
	return cfg.Has(resource, action, scope)
}

// Names returns the cached role names in sorted order.
func (c *Cache) Names() []RoleName {
	c.mu.RLock()
	names := make([]RoleName, 0, len(c.roles))
	for name := range c.roles {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of every cached role.
func (c *Cache) Snapshot() map[RoleName]RolePermissions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[RoleName]RolePermissions, len(c.roles))
	for name, cfg := range c.roles {
		out[name] = cfg.Clone()
	}
	return out
}

// Len returns the number of cached roles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.roles)
}

// MarkReady flags the cache as initialized.
func (c *Cache) MarkReady() {
	c.ready.Store(true)
}

// Ready reports whether initialization has completed.
func (c *Cache) Ready() bool {
	return c.ready.Load()
}

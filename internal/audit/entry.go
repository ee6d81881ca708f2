package audit

import (
	"time"

	"github.com/odyssey-erp/portal/internal/rbac"
)

// Action enumerates role mutation kinds recorded in the trail.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Entry is an immutable record of a role mutation.
type Entry struct {
	ID             string                `json:"id"`
	RoleName       string                `json:"role_name"`
	Action         Action                `json:"action"`
	PreviousConfig *rbac.RolePermissions `json:"previous_config,omitempty"`
	NewConfig      *rbac.RolePermissions `json:"new_config,omitempty"`
	UserID         string                `json:"user_id"`
	IPAddress      string                `json:"ip_address"`
	UserAgent      string                `json:"user_agent"`
	CreatedAt      time.Time             `json:"created_at"`
}

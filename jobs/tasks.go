package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/portal/internal/rbac"
	"github.com/odyssey-erp/portal/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRolesReplay re-sends a role change that only reached the local cache.
	TaskRolesReplay = "roles:replay"
)

// Replay actions.
const (
	ReplayUpsert = "upsert"
	ReplayDelete = "delete"
)

// RolesReplayPayload describes a role mutation awaiting remote persistence.
type RolesReplayPayload struct {
	Action      string                `json:"action"`
	Role        rbac.RoleName         `json:"role"`
	Config      *rbac.RolePermissions `json:"config,omitempty"`
	Actor       shared.Actor          `json:"actor"`
	RequestedAt time.Time             `json:"requested_at"`
}

// NewRolesReplayTask constructs an Asynq task.
func NewRolesReplayTask(payload RolesReplayPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRolesReplay, data, opts...), nil
}

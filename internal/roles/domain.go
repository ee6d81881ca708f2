package roles

import (
	"errors"
	"time"

	"github.com/odyssey-erp/portal/internal/rbac"
	"github.com/odyssey-erp/portal/internal/shared"
)

// Tier names, in ladder order.
const (
	TierRPC     = "rpc"
	TierTable   = "table"
	TierDefault = "default"
)

// Ladder operation labels.
const (
	OpFetch  = "fetch"
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// FloorCreator marks the hardcoded fail-safe role as system-made.
const FloorCreator = "system"

var (
	// ErrCapabilityUnavailable marks a tier whose backing function, table or
	// grant is not deployed in this environment.
	ErrCapabilityUnavailable = errors.New("roles: capability unavailable")
	// ErrLadderExhausted is returned when every tier of a ladder failed.
	ErrLadderExhausted = errors.New("roles: all tiers failed")
	// ErrRejected is returned when a privileged RPC answered false.
	ErrRejected = errors.New("roles: remote rejected change")
	// ErrInvalidRoleName is returned for blank or padded role names.
	ErrInvalidRoleName = errors.New("roles: invalid role name")
)

// CustomRole is a persisted role definition from the remote policy store.
// Config may omit permissions to inherit the built-in role of the same name.
type CustomRole struct {
	Name      rbac.RoleName        `json:"name"`
	Config    rbac.RolePermissions `json:"config"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	CreatedBy string               `json:"created_by"`
}

// Mutation is a role change handed to the remote tiers.
type Mutation struct {
	Role        rbac.RoleName
	Config      rbac.RolePermissions
	Actor       shared.Actor
	RequestedAt time.Time
}

// Outcome classifies how far a mutation got.
type Outcome int

const (
	// OutcomeFailed means nothing was applied.
	OutcomeFailed Outcome = iota
	// OutcomePersisted means a remote tier accepted the change.
	OutcomePersisted
	// OutcomeLocalOnly means only the process cache reflects the change.
	OutcomeLocalOnly
)

func (o Outcome) String() string {
	switch o {
	case OutcomePersisted:
		return "persisted"
	case OutcomeLocalOnly:
		return "local_only"
	default:
		return "failed"
	}
}

// MarshalText renders the outcome for JSON responses.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome label. Unknown labels are Failed.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "persisted":
		*o = OutcomePersisted
	case "local_only":
		*o = OutcomeLocalOnly
	default:
		*o = OutcomeFailed
	}
	return nil
}

// MutationResult reports a role mutation.
type MutationResult struct {
	Role    rbac.RoleName
	Outcome Outcome
	// Tier is the remote tier that accepted the change, empty otherwise.
	Tier string
	// Queued is set when a local-only change was handed to the replay queue.
	Queued bool
	// Err holds the remote failures for local-only and failed outcomes.
	Err error
}

// OK is the optimistic success signal shown to administrators: true unless
// the change could not be applied even locally.
func (r MutationResult) OK() bool {
	return r.Outcome != OutcomeFailed
}

func floorRole(now time.Time) CustomRole {
	return CustomRole{
		Name:      rbac.AdminRoleName,
		Config:    rbac.DefaultAdminPermissions(),
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: FloorCreator,
	}
}

package roles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/portal/internal/platform/breaker"
	"github.com/odyssey-erp/portal/internal/rbac"
)

// RPC is the privileged function surface of the remote policy store.
type RPC interface {
	GetCustomRoles(ctx context.Context) ([]CustomRole, error)
	UpdateRole(ctx context.Context, name rbac.RoleName, cfg rbac.RolePermissions) error
	DeleteRole(ctx context.Context, name rbac.RoleName) error
}

// Tables is direct access to the custom_roles table, the degraded substitute
// for RPC.
type Tables interface {
	ListCustomRoles(ctx context.Context) ([]CustomRole, error)
	UpsertRole(ctx context.Context, mut Mutation) error
	DeleteRole(ctx context.Context, mut Mutation) error
}

// Default per-tier timeouts.
const (
	DefaultRPCTimeout   = 3 * time.Second
	DefaultTableTimeout = 5 * time.Second
)

// ClientConfig wires a Client.
type ClientConfig struct {
	RPC          RPC
	Tables       Tables
	Breaker      *breaker.Breaker
	RPCTimeout   time.Duration
	TableTimeout time.Duration
	Logger       *slog.Logger
	Metrics      Metrics
	Now          func() time.Time
}

// Client reaches the remote policy store through ordered fallback ladders.
// No method returns an error that would abort the caller: fetch always has
// a floor and mutations report exhaustion as a value.
type Client struct {
	rpc          RPC
	tables       Tables
	breaker      *breaker.Breaker
	rpcTimeout   time.Duration
	tableTimeout time.Duration
	logger       *slog.Logger
	metrics      Metrics
	now          func() time.Time
}

// NewClient builds a Client. Missing backends make their tier report
// ErrCapabilityUnavailable.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		rpc:          cfg.RPC,
		tables:       cfg.Tables,
		breaker:      cfg.Breaker,
		rpcTimeout:   cfg.RPCTimeout,
		tableTimeout: cfg.TableTimeout,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
	}
	if c.rpcTimeout <= 0 {
		c.rpcTimeout = DefaultRPCTimeout
	}
	if c.tableTimeout <= 0 {
		c.tableTimeout = DefaultTableTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// FetchAll returns every custom role: RPC, then table, then the hardcoded
// Admin floor. It never fails and the floor is never empty.
func (c *Client) FetchAll(ctx context.Context) ([]CustomRole, string) {
	tiers := append(c.remoteFetchTiers(), tier[[]CustomRole]{
		name: TierDefault,
		run: func(context.Context) ([]CustomRole, error) {
			return []CustomRole{floorRole(c.now())}, nil
		},
	})
	roles, source, err := runLadder(ctx, c.logger, c.metrics, OpFetch, tiers)
	if err != nil {
		// Unreachable while the floor tier exists.
		c.logger.Error("role fetch floor failed", slog.Any("error", err))
		return []CustomRole{floorRole(c.now())}, TierDefault
	}
	if source == TierDefault {
		c.logger.Error("remote policy store unreachable, using fail-safe admin role")
	}
	return roles, source
}

// FetchRemote runs only the remote tiers so callers never mistake the floor
// for the store's state.
func (c *Client) FetchRemote(ctx context.Context) ([]CustomRole, string, error) {
	return runLadder(ctx, c.logger, c.metrics, OpFetch, c.remoteFetchTiers())
}

// Upsert persists a role config via RPC, then direct table upsert. It returns
// the accepting tier or the joined failures.
func (c *Client) Upsert(ctx context.Context, mut Mutation) (string, error) {
	tiers := []tier[struct{}]{
		{name: TierRPC, timeout: c.rpcTimeout, run: func(ctx context.Context) (struct{}, error) {
			if c.rpc == nil {
				return struct{}{}, fmt.Errorf("%w: rpc backend not configured", ErrCapabilityUnavailable)
			}
			return struct{}{}, c.breaker.Do(ctx, func(ctx context.Context) error {
				return c.rpc.UpdateRole(ctx, mut.Role, mut.Config)
			})
		}},
		{name: TierTable, timeout: c.tableTimeout, run: func(ctx context.Context) (struct{}, error) {
			if c.tables == nil {
				return struct{}{}, fmt.Errorf("%w: table backend not configured", ErrCapabilityUnavailable)
			}
			return struct{}{}, c.tables.UpsertRole(ctx, mut)
		}},
	}
	_, accepted, err := runLadder(ctx, c.logger, c.metrics, OpUpsert, tiers)
	return accepted, err
}

// Delete removes a role via RPC, then direct row delete. Deleting a missing
// role succeeds.
func (c *Client) Delete(ctx context.Context, mut Mutation) (string, error) {
	tiers := []tier[struct{}]{
		{name: TierRPC, timeout: c.rpcTimeout, run: func(ctx context.Context) (struct{}, error) {
			if c.rpc == nil {
				return struct{}{}, fmt.Errorf("%w: rpc backend not configured", ErrCapabilityUnavailable)
			}
			return struct{}{}, c.breaker.Do(ctx, func(ctx context.Context) error {
				return c.rpc.DeleteRole(ctx, mut.Role)
			})
		}},
		{name: TierTable, timeout: c.tableTimeout, run: func(ctx context.Context) (struct{}, error) {
			if c.tables == nil {
				return struct{}{}, fmt.Errorf("%w: table backend not configured", ErrCapabilityUnavailable)
			}
			return struct{}{}, c.tables.DeleteRole(ctx, mut)
		}},
	}
	_, accepted, err := runLadder(ctx, c.logger, c.metrics, OpDelete, tiers)
	return accepted, err
}

func (c *Client) remoteFetchTiers() []tier[[]CustomRole] {
	return []tier[[]CustomRole]{
		{name: TierRPC, timeout: c.rpcTimeout, run: func(ctx context.Context) ([]CustomRole, error) {
			if c.rpc == nil {
				return nil, fmt.Errorf("%w: rpc backend not configured", ErrCapabilityUnavailable)
			}
			var roles []CustomRole
			err := c.breaker.Do(ctx, func(ctx context.Context) error {
				var err error
				roles, err = c.rpc.GetCustomRoles(ctx)
				return err
			})
			return roles, err
		}},
		{name: TierTable, timeout: c.tableTimeout, run: func(ctx context.Context) ([]CustomRole, error) {
			if c.tables == nil {
				return nil, fmt.Errorf("%w: table backend not configured", ErrCapabilityUnavailable)
			}
			return c.tables.ListCustomRoles(ctx)
		}},
	}
}

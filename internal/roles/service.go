package roles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/portal/internal/audit"
	"github.com/odyssey-erp/portal/internal/rbac"
	"github.com/odyssey-erp/portal/internal/shared"
)

// Mutation action labels.
const (
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// sideEffectTimeout bounds publishing and enqueueing after a change, which
// run detached from the caller's context.
const sideEffectTimeout = 5 * time.Second

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Client   *Client
	Cache    *rbac.Cache
	Builtins rbac.Builtins
	Audit    *audit.Reader
	// Notifier is told about persisted changes. Optional.
	Notifier Notifier
	// Enqueuer receives local-only changes for replay. Optional.
	Enqueuer       Enqueuer
	ReplayMaxRetry int
	Logger         *slog.Logger
	Metrics        Metrics
	Now            func() time.Time
}

// Service owns the process role cache: it initializes it, refreshes it and
// applies administrative changes write-through with remote best effort.
type Service struct {
	client         *Client
	cache          *rbac.Cache
	builtins       rbac.Builtins
	audit          *audit.Reader
	notifier       Notifier
	enqueuer       Enqueuer
	replayMaxRetry int
	logger         *slog.Logger
	metrics        Metrics
	now            func() time.Time
	refresh        singleflight.Group
}

// NewService builds a Service. A nil cache gets a fresh one.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		client:         cfg.Client,
		cache:          cfg.Cache,
		builtins:       cfg.Builtins,
		audit:          cfg.Audit,
		notifier:       cfg.Notifier,
		enqueuer:       cfg.Enqueuer,
		replayMaxRetry: cfg.ReplayMaxRetry,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		now:            cfg.Now,
	}
	if s.cache == nil {
		s.cache = rbac.NewCache()
	}
	if s.builtins == nil {
		s.builtins = rbac.DefaultBuiltins()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.replayMaxRetry <= 0 {
		s.replayMaxRetry = DefaultReplayMaxRetry
	}
	return s
}

// Cache exposes the role cache read by permission checks.
func (s *Service) Cache() *rbac.Cache {
	return s.cache
}

// InitReport describes how the cache was populated.
type InitReport struct {
	Source      string
	Roles       int
	SeededAdmin bool
	Recovered   bool
}

// Initialize populates the cache from the remote store, or its floor, and
// marks it ready. It always leaves Admin with a non-empty permission set,
// even if the fetch panics.
func (s *Service) Initialize(ctx context.Context) (report InitReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("role initialization failed, seeding fail-safe admin role", slog.Any("panic", r))
			s.cache.Set(rbac.AdminRoleName, rbac.DefaultAdminPermissions())
			report = InitReport{Source: TierDefault, Roles: s.cache.Len(), SeededAdmin: true, Recovered: true}
		}
		s.cache.MarkReady()
		s.metrics.SetCachedRoles(s.cache.Len())
	}()

	roles, source := s.client.FetchAll(ctx)
	for _, role := range roles {
		s.apply(role)
	}
	report = InitReport{Source: source, SeededAdmin: s.ensureAdmin()}
	report.Roles = s.cache.Len()
	s.logger.Info("roles initialized",
		slog.String("source", report.Source),
		slog.Int("roles", report.Roles),
		slog.Bool("seeded_admin", report.SeededAdmin))
	return report
}

// GetCustomRoles lists the custom roles through the full fetch ladder and
// reports which tier answered.
func (s *Service) GetCustomRoles(ctx context.Context) ([]CustomRole, string) {
	return s.client.FetchAll(ctx)
}

// RefreshReport describes a refresh from the remote store.
type RefreshReport struct {
	Source string `json:"source"`
	Roles  int    `json:"roles"`
}

// Refresh re-applies every remote role to the cache. It never uses the
// floor, so an unreachable store leaves the cache untouched. Concurrent
// calls share one fetch.
func (s *Service) Refresh(ctx context.Context) (RefreshReport, error) {
	v, err, _ := s.refresh.Do("refresh", func() (any, error) {
		roles, source, err := s.client.FetchRemote(ctx)
		if err != nil {
			return RefreshReport{}, err
		}
		for _, role := range roles {
			s.apply(role)
		}
		s.ensureAdmin()
		s.metrics.SetCachedRoles(s.cache.Len())
		return RefreshReport{Source: source, Roles: len(roles)}, nil
	})
	if err != nil {
		s.logger.Warn("role refresh failed, keeping cached roles", slog.Any("error", err))
		return RefreshReport{}, err
	}
	return v.(RefreshReport), nil
}

// UpdateRole persists cfg remotely on a best-effort basis and always writes
// it to the cache. Remote failure yields OutcomeLocalOnly, which still
// reports OK.
func (s *Service) UpdateRole(ctx context.Context, name rbac.RoleName, cfg rbac.RolePermissions) MutationResult {
	if !rbac.ValidRoleName(name) {
		return s.reject(ActionUpdate, name)
	}
	mut := s.mutation(ctx, name, cfg.Clone())
	accepted, err := s.persist(OpUpsert, func() (string, error) {
		return s.client.Upsert(ctx, mut)
	})
	s.cache.Set(name, s.builtins.Resolve(name, cfg))
	s.metrics.SetCachedRoles(s.cache.Len())
	return s.settle(ctx, ActionUpdate, mut, accepted, err)
}

// DeleteRole removes the role remotely on a best-effort basis. The cache
// entry is kept; it is replaced on the next update or restart.
func (s *Service) DeleteRole(ctx context.Context, name rbac.RoleName) MutationResult {
	if !rbac.ValidRoleName(name) {
		return s.reject(ActionDelete, name)
	}
	mut := s.mutation(ctx, name, rbac.RolePermissions{})
	accepted, err := s.persist(OpDelete, func() (string, error) {
		return s.client.Delete(ctx, mut)
	})
	return s.settle(ctx, ActionDelete, mut, accepted, err)
}

// GetRoleAuditLogs lists role history newest first. Failures yield an
// empty slice.
func (s *Service) GetRoleAuditLogs(ctx context.Context, limit int, roleName string) []audit.Entry {
	return s.audit.List(ctx, limit, roleName)
}

// Watch refreshes the cache whenever a peer announces a change. It blocks
// until ctx is done.
func (s *Service) Watch(ctx context.Context, listener Listener) error {
	return listener.Listen(ctx, func(ctx context.Context, change Change) {
		s.logger.Info("peer changed role", slog.String("role", change.Role), slog.String("action", change.Action))
		_, _ = s.Refresh(ctx)
	})
}

// Listener delivers change notices from peers.
type Listener interface {
	Listen(ctx context.Context, fn func(context.Context, Change)) error
}

func (s *Service) mutation(ctx context.Context, name rbac.RoleName, cfg rbac.RolePermissions) Mutation {
	actor, _ := shared.ActorFromContext(ctx)
	return Mutation{Role: name, Config: cfg, Actor: actor, RequestedAt: s.now().UTC()}
}

// persist shields the caller from a panicking client.
func (s *Service) persist(op string, fn func() (string, error)) (accepted string, err error) {
	defer func() {
		if r := recover(); r != nil {
			accepted = ""
			err = fmt.Errorf("%w: %s: panic: %v", ErrLadderExhausted, op, r)
		}
	}()
	return fn()
}

func (s *Service) settle(ctx context.Context, action string, mut Mutation, accepted string, err error) MutationResult {
	result := MutationResult{Role: mut.Role, Outcome: OutcomePersisted, Tier: accepted}
	logger := s.logger.With(slog.String("role", mut.Role), slog.String("action", action))
	if err == nil {
		logger.Info("role change persisted", slog.String("tier", accepted))
		s.announce(ctx, Change{Role: mut.Role, Action: action, At: mut.RequestedAt})
	} else {
		result = MutationResult{Role: mut.Role, Outcome: OutcomeLocalOnly, Err: err}
		logger.Warn("role change not persisted remotely, kept local only; audit deferred",
			slog.String("user", mut.Actor.UserID),
			slog.Any("error", err))
		result.Queued = s.enqueueReplay(ctx, action, mut)
	}
	s.metrics.ObserveMutation(action, result.Outcome.String())
	return result
}

func (s *Service) reject(action string, name rbac.RoleName) MutationResult {
	s.logger.Warn("role change rejected", slog.String("action", action), slog.String("role", name))
	s.metrics.ObserveMutation(action, OutcomeFailed.String())
	return MutationResult{Role: name, Outcome: OutcomeFailed, Err: ErrInvalidRoleName}
}

func (s *Service) announce(ctx context.Context, change Change) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.notifier.Publish(ctx, change); err != nil {
		s.logger.Warn("publish role change", slog.String("role", change.Role), slog.Any("error", err))
	}
}

// apply resolves inherited configs against the built-ins and writes the
// role to the cache.
func (s *Service) apply(role CustomRole) {
	if !rbac.ValidRoleName(role.Name) {
		s.logger.Warn("skip custom role with invalid name", slog.String("role", role.Name))
		return
	}
	s.cache.Set(role.Name, s.builtins.Resolve(role.Name, role.Config))
}

// ensureAdmin seeds the default Admin when it is missing or empty so that
// nobody is locked out of role administration.
func (s *Service) ensureAdmin() bool {
	if current, ok := s.cache.Lookup(rbac.AdminRoleName); ok && !current.Empty() {
		return false
	}
	s.logger.Warn("admin role missing or empty, seeding defaults")
	s.cache.Set(rbac.AdminRoleName, rbac.DefaultAdminPermissions())
	return true
}

// detached outlives the request: the cache already holds the change, so
// its notice and replay must not die with a disconnected client.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

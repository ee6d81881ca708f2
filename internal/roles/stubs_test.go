package roles

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/portal/internal/rbac"
)

var errRemoteDown = errors.New("connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRPC struct {
	mu          sync.Mutex
	roles       []CustomRole
	fetchErr    error
	updateErr   error
	deleteErr   error
	fetchCalls  int
	updateCalls int
	deleteCalls int
	lastUpdate  rbac.RolePermissions
}

func (s *stubRPC) GetCustomRoles(context.Context) ([]CustomRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.roles, nil
}

func (s *stubRPC) UpdateRole(_ context.Context, _ rbac.RoleName, cfg rbac.RolePermissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	s.lastUpdate = cfg
	return s.updateErr
}

func (s *stubRPC) DeleteRole(context.Context, rbac.RoleName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	return s.deleteErr
}

type stubTables struct {
	mu          sync.Mutex
	roles       map[rbac.RoleName]CustomRole
	listErr     error
	upsertErr   error
	deleteErr   error
	listCalls   int
	upsertCalls int
	deleteCalls int
	mutations   []Mutation
}

func newStubTables() *stubTables {
	return &stubTables{roles: map[rbac.RoleName]CustomRole{}}
}

func (s *stubTables) ListCustomRoles(context.Context) ([]CustomRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]CustomRole, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, role)
	}
	return out, nil
}

func (s *stubTables) UpsertRole(_ context.Context, mut Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	s.mutations = append(s.mutations, mut)
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.roles[mut.Role] = CustomRole{Name: mut.Role, Config: mut.Config, UpdatedAt: mut.RequestedAt}
	return nil
}

func (s *stubTables) DeleteRole(_ context.Context, mut Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	s.mutations = append(s.mutations, mut)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.roles, mut.Role)
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

// Publish fails on a done context like a real Redis client.
func (n *recordingNotifier) Publish(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	return n.err
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

// Enqueue fails on a done context like asynq.Client.
func (e *recordingEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
}

func newTestClient(rpc RPC, tables Tables) *Client {
	return NewClient(ClientConfig{
		RPC:          rpc,
		Tables:       tables,
		RPCTimeout:   time.Second,
		TableTimeout: time.Second,
		Logger:       discardLogger(),
		Now:          fixedNow,
	})
}

func schedulerConfig() rbac.RolePermissions {
	return rbac.RolePermissions{Permissions: []rbac.Permission{
		{Resource: rbac.ResourceJobs, Action: rbac.ActionView, Scope: rbac.ScopeDivision},
	}}
}

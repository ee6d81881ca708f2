package roles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/portal/jobs"
)

// DefaultReplayMaxRetry bounds redelivery of a local-only change.
const DefaultReplayMaxRetry = 10

// Enqueuer is satisfied by *jobs.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func (s *Service) enqueueReplay(ctx context.Context, action string, mut Mutation) bool {
	if s.enqueuer == nil {
		return false
	}
	payload := jobs.RolesReplayPayload{
		Action:      jobs.ReplayUpsert,
		Role:        mut.Role,
		Actor:       mut.Actor,
		RequestedAt: mut.RequestedAt,
	}
	if action == ActionDelete {
		payload.Action = jobs.ReplayDelete
	} else {
		cfg := mut.Config.Clone()
		payload.Config = &cfg
	}
	task, err := jobs.NewRolesReplayTask(payload, asynq.MaxRetry(s.replayMaxRetry))
	if err == nil {
		enqueueCtx, cancel := detached(ctx)
		_, err = s.enqueuer.Enqueue(enqueueCtx, task)
		cancel()
	}
	if err != nil {
		s.logger.Warn("enqueue role replay", slog.String("role", mut.Role), slog.Any("error", err))
		return false
	}
	return true
}

// Replayer re-sends local-only role changes from the worker. A change is
// dropped when the remote role was modified after it was requested.
type Replayer struct {
	client   *Client
	notifier Notifier
	logger   *slog.Logger
}

// NewReplayer builds a Replayer. notifier may be nil.
func NewReplayer(client *Client, notifier Notifier, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{client: client, notifier: notifier, logger: logger}
}

// Replay applies payload to the remote store. Returned errors are retried by
// the queue.
func (r *Replayer) Replay(ctx context.Context, payload jobs.RolesReplayPayload) error {
	remote, _, err := r.client.FetchRemote(ctx)
	if err != nil {
		return err
	}
	current, exists := findRole(remote, payload.Role)
	if exists && current.UpdatedAt.After(payload.RequestedAt) {
		r.logger.Info("role replay superseded",
			slog.String("role", payload.Role),
			slog.Time("remote_updated_at", current.UpdatedAt),
			slog.Time("requested_at", payload.RequestedAt))
		return nil
	}

	mut := Mutation{Role: payload.Role, Actor: payload.Actor, RequestedAt: payload.RequestedAt}
	action := ActionUpdate
	switch payload.Action {
	case jobs.ReplayUpsert:
		if payload.Config == nil {
			return fmt.Errorf("roles: replay upsert of %q without config: %w", payload.Role, asynq.SkipRetry)
		}
		mut.Config = payload.Config.Clone()
		if _, err := r.client.Upsert(ctx, mut); err != nil {
			return err
		}
	case jobs.ReplayDelete:
		action = ActionDelete
		if !exists {
			return nil
		}
		if _, err := r.client.Delete(ctx, mut); err != nil {
			return err
		}
	default:
		return fmt.Errorf("roles: unknown replay action %q: %w", payload.Action, asynq.SkipRetry)
	}

	if r.notifier != nil {
		publishCtx, cancel := detached(ctx)
		defer cancel()
		if err := r.notifier.Publish(publishCtx, Change{Role: payload.Role, Action: action, At: time.Now().UTC()}); err != nil {
			r.logger.Warn("publish replayed role change", slog.String("role", payload.Role), slog.Any("error", err))
		}
	}
	return nil
}

func findRole(roles []CustomRole, name string) (CustomRole, bool) {
	for _, role := range roles {
		if role.Name == name {
			return role, true
		}
	}
	return CustomRole{}, false
}

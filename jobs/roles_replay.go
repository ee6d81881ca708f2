package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/portal/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RoleReplayer pushes a pending role change to the remote policy store.
type RoleReplayer interface {
	Replay(ctx context.Context, payload RolesReplayPayload) error
}

// RolesReplayJob handles TaskRolesReplay tasks.
type RolesReplayJob struct {
	Replayer RoleReplayer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewRolesReplayJob wires dependencies for the replay handler.
func NewRolesReplayJob(replayer RoleReplayer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RolesReplayJob {
	return &RolesReplayJob{Replayer: replayer, Logger: logger, Metrics: metrics}
}

// Handle processes role replay tasks. Malformed payloads are not retried.
func (j *RolesReplayJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Replayer == nil {
		return errors.New("roles replay: handler not configured")
	}
	var payload RolesReplayPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("roles replay: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Role == "" || (payload.Action != ReplayUpsert && payload.Action != ReplayDelete) {
		return fmt.Errorf("roles replay: invalid payload for %q: %w", payload.Role, asynq.SkipRetry)
	}
	if payload.Action == ReplayUpsert && payload.Config == nil {
		return fmt.Errorf("roles replay: upsert of %q without config: %w", payload.Role, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRolesReplay)
	logger := j.logger().With(slog.String("role", payload.Role), slog.String("action", payload.Action))

	err := j.Replayer.Replay(ctx, payload)
	if err != nil {
		logger.Warn("role replay failed", slog.Any("error", err))
	} else {
		logger.Info("role replay completed")
	}
	return tracker.End(err)
}

func (j *RolesReplayJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRolesReplay))
	}
	return slog.Default().With(slog.String("job", TaskRolesReplay))
}

func (j *RolesReplayJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

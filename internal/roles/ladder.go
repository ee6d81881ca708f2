package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// tier is one strategy of a fallback ladder.
type tier[T any] struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) (T, error)
}

// Metrics receives ladder and mutation observations.
type Metrics interface {
	ObserveTier(op, tier string, err error, elapsed time.Duration)
	ObserveMutation(action, outcome string)
	SetCachedRoles(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTier(string, string, error, time.Duration) {}
func (noopMetrics) ObserveMutation(string, string)                  {}
func (noopMetrics) SetCachedRoles(int)                              {}

// runLadder attempts tiers strictly in order and returns the first success
// with the tier name. Failures never escape a tier: errors and panics are
// logged and the next tier runs. When every tier fails the joined errors are
// returned wrapped in ErrLadderExhausted.
func runLadder[T any](ctx context.Context, logger *slog.Logger, metrics Metrics, op string, tiers []tier[T]) (T, string, error) {
	failures := make([]error, 0, len(tiers))
	for _, t := range tiers {
		start := time.Now()
		value, err := attemptTier(ctx, t)
		metrics.ObserveTier(op, t.name, err, time.Since(start))
		if err == nil {
			if len(failures) > 0 {
				logger.Info("role ladder recovered",
					slog.String("op", op),
					slog.String("tier", t.name),
					slog.Int("failed_tiers", len(failures)))
			}
			return value, t.name, nil
		}
		logger.Warn("role ladder tier failed",
			slog.String("op", op),
			slog.String("tier", t.name),
			slog.Bool("unavailable", errors.Is(err, ErrCapabilityUnavailable)),
			slog.Any("error", err))
		failures = append(failures, fmt.Errorf("%s: %w", t.name, err))
	}
	var zero T
	return zero, "", fmt.Errorf("%w: %s: %w", ErrLadderExhausted, op, errors.Join(failures...))
}

func attemptTier[T any](ctx context.Context, t tier[T]) (value T, err error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			err = fmt.Errorf("roles: tier %s panicked: %v", t.name, r)
		}
	}()
	return t.run(ctx)
}

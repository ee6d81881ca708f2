package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/portal/internal/rbac"
)

// DefaultSyncChannel carries role change notices between processes.
const DefaultSyncChannel = "roles.changed"

// Change is a notice that a role was persisted remotely.
type Change struct {
	Origin string        `json:"origin"`
	Role   rbac.RoleName `json:"role"`
	Action string        `json:"action"`
	At     time.Time     `json:"at"`
}

// Notifier announces persisted role changes to peers.
type Notifier interface {
	Publish(ctx context.Context, change Change) error
}

// RedisNotifier publishes and receives Change notices over Redis pub/sub.
// Every instance has its own origin id so it can skip its own notices.
type RedisNotifier struct {
	client   *redis.Client
	channel  string
	origin   string
	logger   *slog.Logger
	retryMin time.Duration
	retryMax time.Duration
}

// Subscribe retry bounds.
const (
	subscribeRetryMin = 500 * time.Millisecond
	subscribeRetryMax = 30 * time.Second
)

// NewRedisNotifier builds a notifier on channel (DefaultSyncChannel when empty).
func NewRedisNotifier(client *redis.Client, channel string, logger *slog.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultSyncChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client:   client,
		channel:  channel,
		origin:   uuid.NewString(),
		logger:   logger,
		retryMin: subscribeRetryMin,
		retryMax: subscribeRetryMax,
	}
}

// Origin identifies this process in published notices.
func (n *RedisNotifier) Origin() string {
	return n.origin
}

// Publish sends change stamped with this notifier's origin.
func (n *RedisNotifier) Publish(ctx context.Context, change Change) error {
	if n == nil || n.client == nil {
		return errors.New("roles: notifier not configured")
	}
	change.Origin = n.origin
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("roles: encode change: %w", err)
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Listen blocks until ctx is done, calling fn for every notice published by
// another process. While Redis is unreachable the subscription is retried
// with capped exponential backoff; an established subscription reconnects on
// its own.
func (n *RedisNotifier) Listen(ctx context.Context, fn func(context.Context, Change)) error {
	if n == nil || n.client == nil {
		return errors.New("roles: notifier not configured")
	}
	backoff := n.retryMin
	for {
		sub := n.client.Subscribe(ctx, n.channel)
		_, err := sub.Receive(ctx)
		if err == nil {
			n.consume(ctx, sub, fn)
			return nil
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		n.logger.Warn("role change subscription unavailable, retrying",
			slog.String("channel", n.channel),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, n.retryMax)
	}
}

func (n *RedisNotifier) consume(ctx context.Context, sub *redis.PubSub, fn func(context.Context, Change)) {
	defer sub.Close()
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				n.logger.Warn("discard malformed role notice", slog.Any("error", err))
				continue
			}
			if change.Origin == n.origin {
				continue
			}
			fn(ctx, change)
		}
	}
}

package roles

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisPair(t *testing.T) (*RedisNotifier, *RedisNotifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})
	return NewRedisNotifier(clientA, "", discardLogger()), NewRedisNotifier(clientB, "", discardLogger()), mr
}

func waitForSubscribers(t *testing.T, mr *miniredis.Miniredis, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mr.PubSubNumSub(channel)[channel] >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscriber on %s", channel)
}

func TestRedisNotifierDeliversPeerChanges(t *testing.T) {
	local, peer, mr := newRedisPair(t)
	require.NotEqual(t, local.Origin(), peer.Origin())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan Change, 4)
	done := make(chan error, 1)
	go func() {
		done <- local.Listen(ctx, func(_ context.Context, change Change) {
			received <- change
		})
	}()
	waitForSubscribers(t, mr, DefaultSyncChannel, 1)

	require.NoError(t, local.Publish(context.Background(), Change{Role: "Own", Action: ActionUpdate}))
	require.NoError(t, peer.Publish(context.Background(), Change{Role: "Scheduler", Action: ActionUpdate}))

	select {
	case change := <-received:
		assert.Equal(t, "Scheduler", change.Role)
		assert.Equal(t, peer.Origin(), change.Origin)
		assert.False(t, change.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("peer change not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Empty(t, received, "own notices must be skipped")
}

func TestWatchRefreshesOnPeerChange(t *testing.T) {
	local, peer, mr := newRedisPair(t)
	rpc := &stubRPC{}
	svc := newTestService(rpc, newStubTables())
	svc.Initialize(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Watch(ctx, local) }()
	waitForSubscribers(t, mr, DefaultSyncChannel, 1)

	rpc.mu.Lock()
	rpc.roles = []CustomRole{{Name: "Scheduler", Config: schedulerConfig()}}
	rpc.mu.Unlock()
	require.NoError(t, peer.Publish(context.Background(), Change{Role: "Scheduler", Action: ActionUpdate}))

	require.Eventually(t, func() bool {
		return svc.Cache().Get("Scheduler").Equal(schedulerConfig())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisNotifierSubscribesOnceRedisComesUp(t *testing.T) {
	local, peer, mr := newRedisPair(t)
	local.retryMin = 10 * time.Millisecond
	local.retryMax = 50 * time.Millisecond
	mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan Change, 1)
	done := make(chan error, 1)
	go func() {
		done <- local.Listen(ctx, func(_ context.Context, change Change) {
			received <- change
		})
	}()

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("listener gave up while redis was down: %v", err)
	default:
	}

	require.NoError(t, mr.Restart())
	waitForSubscribers(t, mr, DefaultSyncChannel, 1)
	require.NoError(t, peer.Publish(context.Background(), Change{Role: "Scheduler", Action: ActionUpdate}))

	select {
	case change := <-received:
		assert.Equal(t, "Scheduler", change.Role)
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered after redis came up")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestRedisNotifierListenStopsWhileRedisDown(t *testing.T) {
	local, _, mr := newRedisPair(t)
	local.retryMin = 10 * time.Millisecond
	local.retryMax = 10 * time.Millisecond
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, local.Listen(ctx, func(context.Context, Change) {}))
}

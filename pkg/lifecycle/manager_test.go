package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/e2eforge/forge/pkg/hotstore"
	"github.com/e2eforge/forge/pkg/lifecycle"
	"github.com/e2eforge/forge/pkg/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newHot(t *testing.T) *hotstore.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return hotstore.NewClientFromRedis(rdb)
}

func TestStopRunsCallbacksInLIFOOrder(t *testing.T) {
	mgr := lifecycle.New(newHot(t), 50*time.Millisecond)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		mgr.RegisterCallback(func(_ context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			return nil
		})
	}

	mgr.Stop(context.Background())
	require.Equal(t, []int{2, 1, 0}, order)
}

func TestStopClosesConnectionsAfterCallbacks(t *testing.T) {
	mgr := lifecycle.New(newHot(t), 50*time.Millisecond)

	var callbackRan, closerRan bool
	mgr.RegisterCallback(func(_ context.Context) error {
		callbackRan = true
		require.False(t, closerRan, "closer must run after callbacks")
		return nil
	})
	mgr.RegisterCloser(func() error {
		closerRan = true
		return nil
	})

	mgr.Stop(context.Background())
	require.True(t, callbackRan)
	require.True(t, closerRan)
}

func TestStopRejectsNewIntakeImmediately(t *testing.T) {
	mgr := lifecycle.New(newHot(t), 50*time.Millisecond)
	require.True(t, mgr.AcceptingTasks())

	mgr.RegisterCallback(func(_ context.Context) error {
		require.False(t, mgr.AcceptingTasks())
		return nil
	})
	mgr.Stop(context.Background())
	require.Equal(t, lifecycle.StateStopped, mgr.State())
}

func TestStopProceedsAfterGracePeriodWithActiveTasks(t *testing.T) {
	hot := newHot(t)
	require.NoError(t, hot.RegisterTask(context.Background(), model.LifecycleTaskRecord{
		TaskID: "stuck-task", Agent: "executor", StartedAt: time.Now(),
	}))

	mgr := lifecycle.New(hot, 100*time.Millisecond)
	start := time.Now()
	mgr.Stop(context.Background())
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, lifecycle.StateStopped, mgr.State())
}

func TestStopIsIdempotent(t *testing.T) {
	mgr := lifecycle.New(newHot(t), 10*time.Millisecond)
	calls := 0
	mgr.RegisterCallback(func(_ context.Context) error {
		calls++
		return nil
	})
	mgr.Stop(context.Background())
	mgr.Stop(context.Background())
	require.Equal(t, 1, calls)
}

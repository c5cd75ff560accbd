package commandqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/dbperms-mcp/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	executed := false
	task := func(ctx context.Context) (json.RawMessage, error) {
		executed = true
		return json.RawMessage(`{"ok":true}`), nil
	}

	result, err := cq.Enqueue(context.Background(), LaneRead, task)

	assert.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.True(t, executed)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	expectedErr := errors.New("task failed")
	task := func(ctx context.Context) (json.RawMessage, error) {
		return nil, expectedErr
	}

	result, err := cq.Enqueue(context.Background(), LaneWrite, task)

	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_TaskPanic(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), LaneWrite, func(ctx context.Context) (json.RawMessage, error) {
		panic("boom")
	})

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "task panicked: boom", err.Error())

	// the slot was released
	assert.Equal(t, 0, cq.GetRunningCount(LaneWrite))
	_, err = cq.Enqueue(context.Background(), LaneWrite, func(ctx context.Context) (json.RawMessage, error) {
		return nil, nil
	})
	assert.NoError(t, err)
}

func TestCommandQueue_LaneConcurrencyLimit(t *testing.T) {
	cq := New(Config{Lanes: map[string]int{LaneWrite: 2}})
	defer cq.Close()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), LaneWrite, func(ctx context.Context) (json.RawMessage, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Positive(t, atomic.LoadInt32(&peak))
}

func TestCommandQueue_SerialLaneIsFIFO(t *testing.T) {
	cq := New(Config{Lanes: map[string]int{"serial": 1}})
	defer cq.Close()

	release := make(chan struct{})
	var order []int
	var mu sync.Mutex

	// hold the only slot so later tasks queue up in order
	go func() {
		_, _ = cq.Enqueue(context.Background(), "serial", func(ctx context.Context) (json.RawMessage, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return cq.GetRunningCount("serial") == 1 }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "serial", func(ctx context.Context) (json.RawMessage, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}(i)
		require.Eventually(t, func() bool { return cq.GetQueueSize("serial") == i+1 }, time.Second, 5*time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestCommandQueue_LanesAreIndependent(t *testing.T) {
	cq := New(Config{Lanes: map[string]int{LaneWrite: 1}})
	defer cq.Close()

	release := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), LaneWrite, func(ctx context.Context) (json.RawMessage, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return cq.GetRunningCount(LaneWrite) == 1 }, time.Second, 5*time.Millisecond)

	// a blocked write lane does not hold up reads
	_, err := cq.Enqueue(context.Background(), LaneRead, func(ctx context.Context) (json.RawMessage, error) {
		return nil, nil
	})
	assert.NoError(t, err)

	close(release)
}

func TestCommandQueue_ContextCancelledWhileQueued(t *testing.T) {
	cq := New(Config{Lanes: map[string]int{LaneWrite: 1}})
	defer cq.Close()

	release := make(chan struct{})
	defer close(release)
	go func() {
		_, _ = cq.Enqueue(context.Background(), LaneWrite, func(ctx context.Context) (json.RawMessage, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return cq.GetRunningCount(LaneWrite) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	ran := false
	_, err := cq.Enqueue(ctx, LaneWrite, func(ctx context.Context) (json.RawMessage, error) {
		ran = true
		return nil, nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	assert.Equal(t, 0, cq.GetQueueSize(LaneWrite))
}

func TestCommandQueue_GetStats(t *testing.T) {
	cq := New(Config{Lanes: map[string]int{LaneRead: 4}})
	defer cq.Close()

	stats := cq.GetStats()
	assert.Contains(t, stats, LaneRead)
	assert.Contains(t, stats, LaneWrite)
	assert.Equal(t, 4, stats[LaneRead]["concurrency"])
	assert.Equal(t, DefaultWriteConcurrency, stats[LaneWrite]["concurrency"])
	assert.Equal(t, 0, stats[LaneWrite]["queued"])
}

func TestCommandQueue_SetConcurrency(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	cq.SetConcurrency(LaneWrite, 5)
	assert.Equal(t, 5, cq.GetStats()[LaneWrite]["concurrency"])

	cq.SetConcurrency(LaneWrite, 0)
	assert.Equal(t, 1, cq.GetStats()[LaneWrite]["concurrency"])
}

func TestCommandQueue_Close(t *testing.T) {
	cq := New(Config{})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), LaneRead, func(ctx context.Context) (json.RawMessage, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		done <- err
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-done, context.Canceled)

	_, err := cq.Enqueue(context.Background(), LaneRead, func(ctx context.Context) (json.RawMessage, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommandQueue_CloseRejectsQueuedTasks(t *testing.T) {
	cq := New(Config{Lanes: map[string]int{LaneWrite: 1}})

	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), LaneWrite, func(ctx context.Context) (json.RawMessage, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}()
	<-started

	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), LaneWrite, func(ctx context.Context) (json.RawMessage, error) {
			ran.Store(true)
			return nil, nil
		})
		done <- err
	}()
	require.Eventually(t, func() bool { return cq.GetQueueSize(LaneWrite) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, cq.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("queued task was not released by Close")
	}
	assert.False(t, ran.Load())
	assert.Equal(t, 0, cq.GetQueueSize(LaneWrite))
	assert.Equal(t, 0, cq.GetRunningCount(LaneWrite))
}

func TestCommandQueue_Metrics(t *testing.T) {
	m := metrics.NewMetrics()
	cq := New(Config{Metrics: m})
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), LaneRead, func(ctx context.Context) (json.RawMessage, error) {
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.QueueDepth.WithLabelValues(LaneRead)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.QueueWait))
}

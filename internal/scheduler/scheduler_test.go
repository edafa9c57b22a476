package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestEmitFansOutAndCollectsErrors(t *testing.T) {
	s := New(testLogger())
	var calls atomic.Int32
	release := make(chan struct{})

	s.RegisterHandler("market_update", func(ctx context.Context, payload any) error {
		calls.Add(1)
		<-release
		return nil
	})
	s.RegisterHandler("market_update", func(ctx context.Context, payload any) error {
		calls.Add(1)
		close(release) // only reachable if handlers run concurrently
		return errors.New("bad payload")
	})
	s.RegisterHandler("market_update", func(ctx context.Context, payload any) error {
		calls.Add(1)
		panic("boom")
	})

	errs := s.Emit(context.Background(), "market_update", map[string]any{"id": "1"})
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, errs, 2)
}

func TestEmitWithoutHandlers(t *testing.T) {
	s := New(testLogger())
	assert.Empty(t, s.Emit(context.Background(), "nothing", nil))
}

func TestEmitPassesPayload(t *testing.T) {
	s := New(testLogger())
	var got any
	s.RegisterHandler("spike", func(ctx context.Context, payload any) error {
		got = payload
		return nil
	})
	s.Emit(context.Background(), "spike", 42)
	assert.Equal(t, 42, got)
}

func TestSpawnTracksUntilDone(t *testing.T) {
	s := New(testLogger())
	release := make(chan struct{})
	require.NoError(t, s.Spawn("worker", func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.Equal(t, []string{"worker"}, s.Tasks())

	close(release)
	assert.Eventually(t, func() bool { return len(s.Tasks()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestShutdownRunsHooksInOrderThenCancels(t *testing.T) {
	s := New(testLogger())

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(v string) {
		mu.Lock()
		order = append(order, v)
		mu.Unlock()
	}

	require.NoError(t, s.Spawn("loop", func(ctx context.Context) error {
		<-ctx.Done()
		record("task")
		return ctx.Err()
	}))
	s.RegisterShutdownHook("first", func(ctx context.Context) error {
		record("first")
		return errors.New("ignored")
	})
	s.RegisterShutdownHook("second", func(ctx context.Context) error {
		record("second")
		return nil
	})

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, []string{"first", "second", "task"}, order)
	assert.Empty(t, s.Tasks())

	// Idempotent.
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Len(t, order, 3)

	assert.ErrorIs(t, s.Spawn("late", func(ctx context.Context) error { return nil }), ErrShutdown)
}

func TestShutdownTimesOutOnStuckTask(t *testing.T) {
	s := New(testLogger())
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, s.Spawn("stuck", func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	s := New(testLogger())
	var cancelled atomic.Bool
	require.NoError(t, s.Spawn("loop", func(ctx context.Context) error {
		<-ctx.Done()
		cancelled.Store(true)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, cancelled.Load())
}

func TestRunReturnsOnShutdown(t *testing.T) {
	s := New(testLogger())
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

// Package scheduler dispatches named events to concurrent handlers, tracks
// background tasks, and drives an ordered shutdown.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrShutdown is returned by Spawn once shutdown has begun.
var ErrShutdown = errors.New("scheduler: shut down")

// Handler processes one emitted event.
type Handler func(ctx context.Context, payload any) error

// TaskFunc is a tracked background unit of work. It must return once ctx is
// cancelled.
type TaskFunc func(ctx context.Context) error

// HookFunc runs during shutdown.
type HookFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   HookFunc
}

// Scheduler is the single owner of the process's background work. Only it
// cancels the tasks it spawned.
type Scheduler struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	hooks    []hook
	tasks    map[uint64]string
	nextID   uint64

	taskCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
	stopping chan struct{}
	stopped  chan struct{}
	stopErr  error
}

// New creates a Scheduler.
func New(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:   logger.With(slog.String("component", "scheduler")),
		handlers: make(map[string][]Handler),
		tasks:    make(map[uint64]string),
		taskCtx:  ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// RegisterHandler appends h to the handlers for eventType.
func (s *Scheduler) RegisterHandler(eventType string, h Handler) {
	s.mu.Lock()
	s.handlers[eventType] = append(s.handlers[eventType], h)
	s.mu.Unlock()
	s.logger.Debug("handler registered", slog.String("event", eventType))
}

// RegisterShutdownHook appends fn to the hooks run, in registration order, by
// Shutdown.
func (s *Scheduler) RegisterShutdownHook(name string, fn HookFunc) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
	s.mu.Unlock()
}

// Emit invokes every handler registered for eventType concurrently and waits
// for all of them. Handler failures, panics included, are returned and never
// affect the other handlers.
func (s *Scheduler) Emit(ctx context.Context, eventType string, payload any) []error {
	s.mu.Lock()
	hs := make([]Handler, len(s.handlers[eventType]))
	copy(hs, s.handlers[eventType])
	s.mu.Unlock()

	if len(hs) == 0 {
		s.logger.Debug("no handlers for event", slog.String("event", eventType))
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for i, h := range hs {
		g.Go(func() error {
			if err := safeCall(func() error { return h(ctx, payload) }); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("scheduler: %s handler %d: %w", eventType, i, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		s.logger.WarnContext(ctx, "event handler failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
	return errs
}

// Spawn starts fn on its own goroutine under the scheduler's task context and
// tracks it until it returns.
func (s *Scheduler) Spawn(name string, fn TaskFunc) error {
	s.mu.Lock()
	select {
	case <-s.stopping:
		s.mu.Unlock()
		return ErrShutdown
	default:
	}
	s.nextID++
	id := s.nextID
	s.tasks[id] = name
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.tasks, id)
			s.mu.Unlock()
		}()

		err := safeCall(func() error { return fn(s.taskCtx) })
		switch {
		case err == nil:
			s.logger.Debug("task finished", slog.String("task", name))
		case errors.Is(err, context.Canceled) && s.taskCtx.Err() != nil:
			s.logger.Debug("task cancelled", slog.String("task", name))
		default:
			s.logger.Error("task failed",
				slog.String("task", name),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Tasks returns the names of the tasks still running, sorted.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.tasks))
	for _, name := range s.tasks {
		out = append(out, name)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Run blocks until ctx is cancelled or Shutdown is called, then completes the
// shutdown sequence.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started")
	select {
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	case <-s.stopping:
		<-s.stopped
		return s.stopErr
	}
}

// Shutdown runs the shutdown hooks in registration order, cancels every
// tracked task and waits for them to return. Hook failures are logged and do
// not stop the sequence. It is safe to call more than once; later calls wait
// for the first to finish. The returned error is non-nil only when ctx ends
// before every task has returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.stopping)
		s.mu.Unlock()
		s.stopErr = s.shutdown(ctx)
		close(s.stopped)
	})
	<-s.stopped
	return s.stopErr
}

func (s *Scheduler) shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler shutting down")

	s.mu.Lock()
	hooks := make([]hook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	for _, h := range hooks {
		if err := safeCall(func() error { return h.fn(ctx) }); err != nil {
			s.logger.ErrorContext(ctx, "shutdown hook failed",
				slog.String("hook", h.name),
				slog.String("error", err.Error()),
			)
		}
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.InfoContext(ctx, "scheduler shutdown complete")
		return nil
	case <-ctx.Done():
		pending := s.Tasks()
		s.logger.ErrorContext(ctx, "scheduler shutdown timed out",
			slog.Any("pending", pending),
		)
		return fmt.Errorf("scheduler: shutdown: %w", ctx.Err())
	}
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

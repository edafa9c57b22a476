// Package app provides the top-level application lifecycle for the trading
// bot. It wires every dependency, starts the background tasks on the
// scheduler, and drives an ordered shutdown when the context ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/config"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
	"github.com/Kingsleysam1/polymarket-trading-bot/internal/state"
)

const shutdownTimeout = 30 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	root    *slog.Logger
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		root:   logger,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies, starts every task and blocks until ctx is
// cancelled or a task fails fatally. It returns ctx's error after a
// signal-driven shutdown.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	simulate := a.cfg.Simulate()
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.Bool("simulate", simulate),
		slog.String("log_level", a.cfg.LogLevel),
	)
	a.logger.DebugContext(ctx, "configuration", slog.Any("config", config.RedactedConfig(a.cfg)))

	deps, cleanup, err := Wire(ctx, a.cfg, a.root)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Only one live trader may hold the venue account.
	release := func() {}
	if mode == "trade" && deps.Locks != nil {
		release, err = deps.Locks.Acquire(ctx, a.cfg.Redis.LockKey, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: trading lock: %w", err)
		}
		a.logger.InfoContext(ctx, "trading lock acquired", slog.String("key", a.cfg.Redis.LockKey))
	}

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	sched := deps.Scheduler
	registerHandlers(deps, a.root)
	deps.Scanner.OnAdded(func(m domain.Market) { sched.Emit(runCtx, EventMarketAdded, m) })
	deps.Scanner.OnRemoved(func(m domain.Market) { sched.Emit(runCtx, EventMarketRemoved, m) })

	if err := deps.MarketStream.Start(runCtx); err != nil {
		release()
		return fmt.Errorf("app: market stream: %w", err)
	}

	spawn := func(name string, fn func(ctx context.Context) error) {
		if err := sched.Spawn(name, fn); err != nil {
			a.logger.ErrorContext(ctx, "spawn failed", slog.String("task", name), slog.String("error", err.Error()))
		}
	}

	spawn("scanner", deps.Scanner.Run)

	// The orchestrator gets its own context so shutdown can stop new cycles
	// before strategies cancel their orders.
	orchCtx, stopOrch := context.WithCancel(runCtx)
	defer stopOrch()
	orchDone := make(chan struct{})
	if mode == "monitor" {
		close(orchDone)
		a.logger.InfoContext(ctx, "monitor mode, strategies will not execute")
	} else {
		spawn("orchestrator", func(tctx context.Context) error {
			defer close(orchDone)
			defer context.AfterFunc(tctx, stopOrch)()
			if err := deps.Orchestrator.StartAll(orchCtx); err != nil {
				a.logger.WarnContext(orchCtx, "some strategies did not start", slog.String("error", err.Error()))
			}
			err := deps.Orchestrator.Run(orchCtx, a.cfg.Orchestrator.CycleInterval.Duration, simulate)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if deps.Hub != nil {
		spawn("ws_hub", deps.Hub.Run)
	}
	if deps.Notifier != nil {
		spawn("notifier", deps.Notifier.Run)
	}
	if deps.Archiver != nil {
		spawn("archiver", func(tctx context.Context) error {
			return deps.Archiver.Run(tctx, a.cfg.S3.ArchiveInterval.Duration)
		})
	}
	if deps.Server != nil {
		spawn("server", func(context.Context) error {
			if err := deps.Server.Start(); err != nil {
				stop(err)
				return err
			}
			return nil
		})
	}

	a.registerShutdown(deps, stopOrch, orchDone, simulate, release)

	deps.State.SetStatus(runCtx, state.StatusRunning)
	a.logger.InfoContext(ctx, "running", slog.Any("tasks", sched.Tasks()))

	<-runCtx.Done()
	cause := context.Cause(runCtx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	deps.State.SetStatus(shutdownCtx, state.StatusStopping)
	shutdownErr := sched.Shutdown(shutdownCtx)
	deps.State.SetStatus(shutdownCtx, state.StatusStopped)

	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), shutdownErr)
	}
	return errors.Join(cause, shutdownErr)
}

// registerShutdown installs the shutdown hooks in the order they must run:
// stop trading, stop feeds, stop serving, flush the archive, release the
// lock.
func (a *App) registerShutdown(deps *Dependencies, stopOrch context.CancelFunc, orchDone <-chan struct{}, simulate bool, release func()) {
	sched := deps.Scheduler

	sched.RegisterShutdownHook("strategies", func(ctx context.Context) error {
		stopOrch()
		select {
		case <-orchDone:
		case <-ctx.Done():
			return fmt.Errorf("app: orchestrator did not stop: %w", ctx.Err())
		}
		return deps.Orchestrator.StopAll(ctx, simulate)
	})
	sched.RegisterShutdownHook("market_stream", func(context.Context) error {
		deps.MarketStream.Stop()
		return nil
	})
	if deps.Server != nil {
		sched.RegisterShutdownHook("server", deps.Server.Shutdown)
	}
	if deps.Archiver != nil {
		sched.RegisterShutdownHook("archive", func(ctx context.Context) error {
			key, err := deps.Archiver.Flush(ctx)
			if err != nil {
				return err
			}
			if key != "" {
				a.logger.InfoContext(ctx, "final archive uploaded", slog.String("key", key))
			}
			return nil
		})
	}
	sched.RegisterShutdownHook("trading_lock", func(context.Context) error {
		release()
		return nil
	})
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

package strategy

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// Strategy is the contract the orchestrator drives each cycle. Each
// implementation exclusively owns its open positions.
type Strategy interface {
	Name() string
	Key() domain.StrategyKey
	// ScanForSignal returns at most one opportunity, or nil.
	ScanForSignal(ctx context.Context) (*domain.Signal, error)
	// Execute acts on a signal and returns the opened position id. An empty
	// id with a nil error means the strategy declined.
	Execute(ctx context.Context, sig domain.Signal, simulate bool) (string, error)
	// MonitorOpenPositions checks exit conditions and returns the ids of the
	// positions it closed.
	MonitorOpenPositions(ctx context.Context, simulate bool) ([]string, error)
	CancelAll(ctx context.Context, simulate bool) error
	Performance() domain.Performance
}

// Lifecycle is implemented by strategies that own background connections.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Inspector is implemented by strategies with live state worth reporting
// beside their performance.
type Inspector interface {
	Inspect() any
}

// MarketView is the read-only registry the strategies select markets from.
// *scanner.Scanner satisfies it.
type MarketView interface {
	Active() []domain.Market
	Get(id string) (domain.Market, bool)
}

// PositionObserver is told about every position a strategy opens or closes.
type PositionObserver func(ctx context.Context, p domain.Position)

// Deps are the collaborators shared by the strategies.
type Deps struct {
	Venue      domain.Venue
	Markets    MarketView
	Logger     *slog.Logger
	Now        func() time.Time
	Rand       func() float64
	OnPosition PositionObserver
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Rand == nil {
		d.Rand = rand.Float64
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

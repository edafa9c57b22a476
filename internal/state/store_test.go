package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []domain.StateUpdate
	err     error
}

func (r *recordingSink) PublishState(_ context.Context, u domain.StateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return r.err
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Type
	}
	return out
}

type memJournal struct {
	entries []domain.JournalEntry
}

func (m *memJournal) Append(_ context.Context, e domain.JournalEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) Recent(context.Context, int) ([]domain.JournalEntry, error) {
	return m.entries, nil
}

type settled struct{ ids []string }

func (s *settled) Settle(_ context.Context, p domain.Position) { s.ids = append(s.ids, p.ID) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func position(id string, simulated bool) domain.Position {
	return domain.Position{
		ID:       id,
		Strategy: domain.StrategyMaker,
		MarketID: "m1",
		Status:   domain.PositionStatusOpen,
		OpenedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		State:    map[string]any{"simulated": simulated},
	}
}

func closed(p domain.Position, pnl float64) domain.Position {
	p.Close(domain.CloseFilled, pnl, p.OpenedAt.Add(time.Minute))
	return p
}

func TestPositionLifecycle(t *testing.T) {
	sink := &recordingSink{}
	journal := &memJournal{}
	ledger := &settled{}
	s := New("paper", quietLogger(), WithSink(sink), WithJournal(journal), WithSettler(ledger))
	ctx := context.Background()

	p := position("p1", true)
	s.ObservePosition(ctx, p)
	snap := s.Snapshot()
	require.Len(t, snap.OpenPositions, 1)
	assert.Equal(t, "p1", snap.OpenPositions[0].ID)

	s.ObservePosition(ctx, closed(p, 0.14))
	snap = s.Snapshot()
	assert.Empty(t, snap.OpenPositions)
	require.Len(t, snap.RecentTrades, 1)
	assert.Equal(t, domain.CloseFilled, snap.RecentTrades[0].Reason)
	assert.True(t, snap.RecentTrades[0].Simulated)
	assert.Equal(t, 1, snap.Totals.WinningTrades)
	assert.InDelta(t, 0.14, snap.Totals.NetProfit, 1e-9)
	assert.Equal(t, 1.0, snap.Totals.WinRate)

	assert.Equal(t, []string{"p1"}, ledger.ids)
	require.Len(t, journal.entries, 2)
	assert.Equal(t, "position_opened", journal.entries[0].Event)
	assert.Equal(t, "position_closed", journal.entries[1].Event)
	assert.Equal(t, []string{"position_opened", "trade_closed"}, sink.types())
}

func TestLiveCloseIsNotSettled(t *testing.T) {
	ledger := &settled{}
	s := New("trade", quietLogger(), WithSettler(ledger))
	p := position("p1", false)
	s.ObservePosition(context.Background(), p)
	s.ObservePosition(context.Background(), closed(p, -0.25))

	assert.Empty(t, ledger.ids)
	assert.Equal(t, 1, s.Snapshot().Totals.LosingTrades)
}

func TestRecentListsAreCapped(t *testing.T) {
	s := New("paper", quietLogger())
	ctx := context.Background()
	for i := range 60 {
		s.ObservePosition(ctx, closed(position(fmt.Sprintf("p%d", i), true), 1))
	}
	for i := range 25 {
		s.RecordError(ctx, "scanner", fmt.Errorf("boom %d", i))
	}

	snap := s.Snapshot()
	require.Len(t, snap.RecentTrades, 50)
	assert.Equal(t, "p59", snap.RecentTrades[0].PositionID, "newest first")
	require.Len(t, snap.Errors, 20)
	assert.Equal(t, "boom 24", snap.Errors[0].Message)
	assert.Equal(t, 60, snap.Totals.TotalTrades)
}

func TestRecordErrorClassifies(t *testing.T) {
	s := New("paper", quietLogger())
	s.RecordError(context.Background(), "stream", domain.Transient(errors.New("reset")))
	s.RecordError(context.Background(), "stream", nil)

	snap := s.Snapshot()
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "transient", snap.Errors[0].Kind)
	assert.Equal(t, "stream", snap.Errors[0].Source)
}

func TestSignalCycleAndPerformance(t *testing.T) {
	perf := []domain.Performance{{Name: "Maker", Key: domain.StrategyMaker, TotalTrades: 3}}
	s := New("paper", quietLogger(), WithPerformance(func() []domain.Performance { return perf }))
	ctx := context.Background()

	s.RecordSignal(ctx, domain.Signal{Strategy: domain.StrategyMaker, MarketID: "m1", Expected: 0.2, Reason: "spread"})
	s.RecordCycle(ctx, domain.CycleStats{Seq: 7, TradesExecuted: 1})

	snap := s.Snapshot()
	require.NotNil(t, snap.LastOpportunity)
	assert.Equal(t, "m1", snap.LastOpportunity.MarketID)
	assert.False(t, snap.LastOpportunity.DetectedAt.IsZero())
	require.NotNil(t, snap.LastCycle)
	assert.Equal(t, uint64(7), snap.LastCycle.Seq)
	assert.Equal(t, perf, snap.Strategies)
}

func TestStatusMarketAndUptime(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	s := New("monitor", quietLogger(), WithClock(func() time.Time { return clock }))
	assert.Equal(t, StatusInitializing, s.Snapshot().Status)

	s.SetStatus(context.Background(), StatusRunning)
	s.SetMarket(context.Background(), domain.Market{ID: "m1", Question: "BTC up?"})
	clock = now.Add(90 * time.Second)

	snap := s.Snapshot()
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, "monitor", snap.Mode)
	require.NotNil(t, snap.CurrentMarket)
	assert.Equal(t, "m1", snap.CurrentMarket.ID)
	assert.Equal(t, int64(90), snap.Totals.UptimeSeconds)
	assert.Equal(t, 90*time.Second, s.Uptime())
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New("paper", quietLogger(), WithClock(fixedClock(time.Now())))
	s.ObservePosition(context.Background(), closed(position("p1", true), 1))
	snap := s.Snapshot()
	snap.RecentTrades[0].PnL = 99

	assert.Equal(t, 1.0, s.Snapshot().RecentTrades[0].PnL)
}

func TestSinkFailureDoesNotStopUpdates(t *testing.T) {
	failing := &recordingSink{err: errors.New("redis down")}
	ok := &recordingSink{}
	s := New("paper", quietLogger(), WithSink(failing), WithSink(ok), WithSink(nil))

	s.SetStatus(context.Background(), StatusStopping)
	assert.Equal(t, []string{"status"}, failing.types())
	assert.Equal(t, []string{"status"}, ok.types())
	assert.Equal(t, StatusStopping, s.Snapshot().Status)
}

func TestRecordCircuit(t *testing.T) {
	sink := &recordingSink{}
	st := New("paper", quietLogger(), WithSink(sink))
	st.RecordCircuit(context.Background(), domain.CircuitHealthy, domain.CircuitOpen)

	assert.Equal(t, domain.CircuitOpen, st.Snapshot().Circuit)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.updates)
	last := sink.updates[len(sink.updates)-1]
	assert.Equal(t, "circuit", last.Type)
	assert.Equal(t, "circuit_open", last.Data["to"])
}

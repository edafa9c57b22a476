package spike

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sec(n float64) time.Time {
	return t0.Add(time.Duration(n * float64(time.Second)))
}

func newDetector() *Detector {
	return New(DefaultConfig(), func() time.Time { return t0 })
}

func TestDetectUpWithinWindow(t *testing.T) {
	d := newDetector()
	d.AddSample(50000, sec(0))
	d.AddSample(50050, sec(1))
	d.AddSample(50250, sec(5))

	ev := d.Detect()
	require.NotNil(t, ev)
	assert.Equal(t, domain.SpikeUp, ev.Direction)
	assert.Equal(t, 250.0, ev.Delta)
	assert.Equal(t, 50000.0, ev.OldPrice)
	assert.Equal(t, 50250.0, ev.NewPrice)
	assert.Equal(t, 5*time.Second, ev.Window)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.NotEmpty(t, ev.ID)

	d.AddSample(50300, sec(6))
	assert.Nil(t, d.Detect(), "cooldown must suppress a second event")
}

func TestDetectDown(t *testing.T) {
	d := newDetector()
	d.AddSample(50000, sec(0))
	d.AddSample(49950, sec(1))
	d.AddSample(49800, sec(5))

	ev := d.Detect()
	require.NotNil(t, ev)
	assert.Equal(t, domain.SpikeDown, ev.Direction)
	assert.Equal(t, -200.0, ev.Delta)
	assert.Equal(t, 200.0, ev.Magnitude())
	assert.InDelta(t, -0.4, ev.PctChange, 1e-9)
}

func TestSmallMoveIgnored(t *testing.T) {
	d := newDetector()
	d.AddSample(50000, sec(0))
	d.AddSample(50100, sec(5))
	assert.Nil(t, d.Detect())
}

func TestNeedsTwoSamples(t *testing.T) {
	d := newDetector()
	assert.Nil(t, d.Detect())
	d.AddSample(50000, sec(0))
	assert.Nil(t, d.Detect())
}

func TestOutsideWindowIgnored(t *testing.T) {
	d := newDetector()
	// Too recent.
	d.AddSample(50000, sec(0))
	d.AddSample(51000, sec(2))
	assert.Nil(t, d.Detect())

	// Too old.
	d = newDetector()
	d.AddSample(50000, sec(0))
	d.AddSample(51000, sec(11))
	assert.Nil(t, d.Detect())
}

func TestWindowBoundsInclusive(t *testing.T) {
	d := newDetector()
	d.AddSample(50000, sec(0))
	d.AddSample(50150, sec(3))
	require.NotNil(t, d.Detect())

	d = newDetector()
	d.AddSample(50000, sec(0))
	d.AddSample(50150, sec(10))
	require.NotNil(t, d.Detect())
}

func TestCooldownElapses(t *testing.T) {
	d := newDetector()
	d.AddSample(50000, sec(0))
	d.AddSample(50200, sec(5))
	require.NotNil(t, d.Detect())

	d.AddSample(50000, sec(30))
	d.AddSample(50400, sec(34))
	assert.Nil(t, d.Detect(), "29s after the last spike")

	d.AddSample(50600, sec(35))
	ev := d.Detect()
	require.NotNil(t, ev)
	assert.Equal(t, uint64(2), ev.Seq)
	assert.GreaterOrEqual(t, ev.DetectedAt.Sub(sec(5)), 30*time.Second)
}

func TestResetCooldown(t *testing.T) {
	d := newDetector()
	d.AddSample(50000, sec(0))
	d.AddSample(50200, sec(5))
	require.NotNil(t, d.Detect())
	d.AddSample(50400, sec(8))
	assert.Nil(t, d.Detect())

	d.ResetCooldown()
	assert.NotNil(t, d.Detect())
}

func TestRingEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	d := New(cfg, nil)
	d.AddSample(40000, sec(0)) // evicted below
	d.AddSample(50000, sec(1))
	d.AddSample(50010, sec(2))
	d.AddSample(50100, sec(4))

	assert.Equal(t, 3, d.Stats().HistorySize)
	assert.Equal(t, 50100.0, d.Stats().LastPrice)
	assert.Nil(t, d.Detect(), "the evicted sample must not anchor a spike")
}

func TestStats(t *testing.T) {
	d := newDetector()
	d.AddSample(50000, sec(0))
	d.AddSample(50200, sec(4))
	require.NotNil(t, d.Detect())

	st := d.Stats()
	assert.Equal(t, uint64(1), st.TotalSpikes)
	assert.Equal(t, sec(4), st.LastSpikeAt)
	assert.Equal(t, 150.0, st.MinMove)
	assert.Equal(t, 30.0, st.CooldownSeconds)
}

func TestZeroTimestampUsesClock(t *testing.T) {
	d := New(DefaultConfig(), func() time.Time { return sec(10) })
	d.AddSample(50000, sec(5))
	d.AddSample(50300, time.Time{})
	ev := d.Detect()
	require.NotNil(t, ev)
	assert.Equal(t, sec(10), ev.NewAt)
}

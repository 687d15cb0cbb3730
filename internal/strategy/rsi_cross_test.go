package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/paper-trader/internal/market"
	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/signal"
)

func testParams() RSICrossParams {
	return RSICrossParams{
		BarInterval:       time.Minute,
		Period:            3,
		Oversold:          30,
		Overbought:        70,
		StopLossPercent:   1.5,
		TakeProfitPercent: 2.0,
		Leverage:          3,
		Notional:          1000,
	}
}

func tickAt(minute int, price float64) market.Tick {
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	return market.Tick{
		Symbol:    "BTCUSDT",
		Price:     price,
		Quantity:  1,
		Timestamp: base.Add(time.Duration(minute) * time.Minute),
	}
}

// run feeds one tick per minute and collects emitted candidates.
func run(g *RSICross, prices []float64) []signal.Candidate {
	var out []signal.Candidate
	for i, p := range prices {
		out = append(out, g.OnTick(tickAt(i, p))...)
	}
	return out
}

func TestRSICross_OversoldCrossEmitsLong(t *testing.T) {
	g := NewRSICross(testParams())

	// Straight decline pins RSI at 0, then two strong up bars cross the
	// oversold threshold.
	cands := run(g, []float64{100, 99, 98, 97, 105, 110})
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.Equal(t, order.SideLong, c.Side)
	assert.Equal(t, 110.0, c.EntryPrice)
	assert.InDelta(t, 110*0.985, c.StopLoss, 1e-9)
	assert.InDelta(t, 110*1.02, c.TakeProfit1, 1e-9)
	assert.InDelta(t, 1000.0/110, c.Quantity, 1e-9)
	assert.Equal(t, 3.0, c.Leverage)
	assert.GreaterOrEqual(t, c.Score, 60.0)
	assert.LessOrEqual(t, c.Score, 90.0)
	assert.Contains(t, c.Indicators, "rsi")
}

func TestRSICross_OverboughtCrossEmitsShort(t *testing.T) {
	g := NewRSICross(testParams())

	cands := run(g, []float64{100, 101, 102, 103, 95, 90})
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, order.SideShort, c.Side)
	assert.Equal(t, 90.0, c.EntryPrice)
	assert.Greater(t, c.StopLoss, c.EntryPrice)
	assert.Less(t, c.TakeProfit1, c.EntryPrice)
}

func TestRSICross_NoSignalDuringWarmup(t *testing.T) {
	g := NewRSICross(testParams())
	assert.Empty(t, run(g, []float64{100, 99, 98, 97}))
}

func TestRSICross_TicksWithinBarDoNotClose(t *testing.T) {
	g := NewRSICross(testParams())

	// Many ticks inside one minute collapse into a single bar close.
	for _, p := range []float64{100, 99.5, 99.1, 99} {
		tick := tickAt(0, p)
		assert.Empty(t, g.OnTick(tick))
	}

	// The next minute closes the bar at the last traded price.
	assert.Empty(t, g.OnTick(tickAt(1, 98)))
}

func TestRSICross_SymbolsTrackedIndependently(t *testing.T) {
	g := NewRSICross(testParams())

	for i, p := range []float64{100, 99, 98, 97, 105} {
		g.OnTick(tickAt(i, p))

		other := tickAt(i, 50)
		other.Symbol = "ETHUSDT"
		assert.Empty(t, g.OnTick(other), "flat symbol must stay quiet")
	}

	cands := g.OnTick(tickAt(5, 110))
	require.Len(t, cands, 1)
	assert.Equal(t, "BTCUSDT", cands[0].Symbol)
}

package metrics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/portfolio"
)

// closedOrder builds a minimal closed order with a 5-point stop distance per
// unit, so quantity 1 means 5 risked.
func closedOrder(side order.Side, pnl float64, exit time.Time) order.Order {
	stop := 95.0
	if side == order.SideShort {
		stop = 105.0
	}
	return order.Order{
		Side:       side,
		EntryPrice: 100,
		StopLoss:   stop,
		Quantity:   1,
		NetPnl:     pnl,
		ExitTime:   exit,
	}
}

func curveOf(equities ...float64) []portfolio.EquitySample {
	base := time.Now().Add(-time.Hour)
	out := make([]portfolio.EquitySample, len(equities))
	for i, e := range equities {
		out[i] = portfolio.EquitySample{Time: base.Add(time.Duration(i) * 30 * time.Second), Equity: e, Balance: e}
	}
	return out
}

func TestCompute_Counts(t *testing.T) {
	now := time.Now()
	orders := []order.Order{
		closedOrder(order.SideLong, 10, now),
		closedOrder(order.SideLong, -5, now),
		closedOrder(order.SideShort, 8, now),
		closedOrder(order.SideShort, 4, now),
		closedOrder(order.SideShort, -2, now),
	}

	r := Compute(orders, nil, 10000, now, 0)
	assert.Equal(t, 5, r.TotalTrades)
	assert.Equal(t, 3, r.Wins)
	assert.Equal(t, 2, r.Losses)
	assert.InDelta(t, 0.6, r.WinRate, 1e-9)
	assert.Equal(t, 2, r.LongTrades)
	assert.Equal(t, 3, r.ShortTrades)
	assert.InDelta(t, 0.5, r.LongWinRate, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.ShortWinRate, 1e-9)
	assert.InDelta(t, 15.0, r.TotalPnl, 1e-9)
	assert.InDelta(t, 0.15, r.TotalPnlPercent, 1e-9)
	assert.InDelta(t, 10.0, r.LargestWin, 1e-9)
	assert.InDelta(t, -5.0, r.LargestLoss, 1e-9)
	assert.InDelta(t, 22.0/3.0, r.AvgWin, 1e-9)
	assert.InDelta(t, -3.5, r.AvgLoss, 1e-9)
}

func TestCompute_ProfitFactor(t *testing.T) {
	now := time.Now()

	t.Run("finite", func(t *testing.T) {
		orders := []order.Order{
			closedOrder(order.SideLong, 10, now),
			closedOrder(order.SideLong, -4, now),
		}
		r := Compute(orders, nil, 10000, now, 0)
		assert.InDelta(t, 2.5, float64(r.ProfitFactor), 1e-9)
		assert.False(t, r.ProfitFactorIsInf)
	})

	t.Run("infinite when no losses", func(t *testing.T) {
		orders := []order.Order{
			closedOrder(order.SideLong, 10, now),
			closedOrder(order.SideShort, 5, now),
		}
		r := Compute(orders, nil, 10000, now, 0)
		assert.True(t, math.IsInf(float64(r.ProfitFactor), 1))
		assert.True(t, r.ProfitFactorIsInf)
	})

	t.Run("zero with no trades", func(t *testing.T) {
		r := Compute(nil, nil, 10000, now, 0)
		assert.Zero(t, float64(r.ProfitFactor))
		assert.False(t, r.ProfitFactorIsInf)
	})
}

func TestRatio_JSON(t *testing.T) {
	now := time.Now()
	r := Compute([]order.Order{closedOrder(order.SideLong, 10, now)}, nil, 10000, now, 0)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":"inf"`)

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsInf(float64(back.ProfitFactor), 1))

	// Finite values stay numeric.
	data, err = json.Marshal(Ratio(2.5))
	require.NoError(t, err)
	assert.Equal(t, "2.5", string(data))
}

func TestCompute_Expectancy(t *testing.T) {
	now := time.Now()
	// Two trades, 5 risked each: +10 and -5 nets +5 over 10 risked = 0.5R.
	orders := []order.Order{
		closedOrder(order.SideLong, 10, now),
		closedOrder(order.SideLong, -5, now),
	}
	r := Compute(orders, nil, 10000, now, 0)
	assert.InDelta(t, 0.5, r.Expectancy, 1e-9)
}

func TestCompute_Streaks(t *testing.T) {
	now := time.Now()
	var orders []order.Order
	for _, pnl := range []float64{5, 5, -1, 5, -1, -1, -1} {
		orders = append(orders, closedOrder(order.SideLong, pnl, now))
	}
	r := Compute(orders, nil, 10000, now, 0)
	assert.Equal(t, 2, r.MaxConsecutiveWins)
	assert.Equal(t, 3, r.MaxConsecutiveLosses)
}

func TestCompute_Drawdown(t *testing.T) {
	curve := curveOf(10000, 10500, 10200, 10800, 10300)
	r := Compute(nil, curve, 10000, time.Now(), 0)
	assert.InDelta(t, 500.0, r.MaxDrawdown, 1e-9)
	assert.InDelta(t, 500.0/10800*100, r.MaxDrawdownPercent, 1e-9)
	assert.InDelta(t, 10300.0, r.CurrentEquity, 1e-9)
}

func TestCompute_Sharpe(t *testing.T) {
	t.Run("constant returns have no variance", func(t *testing.T) {
		r := Compute(nil, curveOf(10000, 10100, 10201), 10000, time.Now(), 30*time.Second)
		assert.Zero(t, r.SharpeRatio)
	})

	t.Run("positive drift is positive", func(t *testing.T) {
		r := Compute(nil, curveOf(10000, 10100, 10150, 10300, 10350), 10000, time.Now(), 30*time.Second)
		assert.Greater(t, r.SharpeRatio, 0.0)
	})

	t.Run("too few samples", func(t *testing.T) {
		r := Compute(nil, curveOf(10000, 10100), 10000, time.Now(), 30*time.Second)
		assert.Zero(t, r.SharpeRatio)
	})
}

func TestCompute_TimeWindows(t *testing.T) {
	now := time.Now()
	orders := []order.Order{
		closedOrder(order.SideLong, 1, now),                    // today
		closedOrder(order.SideLong, 2, now.AddDate(0, 0, -3)),  // this week
		closedOrder(order.SideLong, 4, now.AddDate(0, 0, -20)), // this month
		closedOrder(order.SideLong, 8, now.AddDate(0, -2, 0)),  // older
	}
	r := Compute(orders, nil, 10000, now, 0)
	assert.InDelta(t, 1.0, r.PnlToday, 1e-9)
	assert.InDelta(t, 3.0, r.PnlThisWeek, 1e-9)
	assert.InDelta(t, 7.0, r.PnlThisMonth, 1e-9)
	assert.InDelta(t, 15.0, r.TotalPnl, 1e-9)
}

func TestCompute_Empty(t *testing.T) {
	r := Compute(nil, nil, 10000, time.Now(), 0)
	assert.Zero(t, r.TotalTrades)
	assert.Zero(t, r.WinRate)
	assert.Zero(t, r.Expectancy)
	assert.InDelta(t, 10000.0, r.CurrentEquity, 1e-9)
	assert.False(t, math.IsNaN(r.SharpeRatio))
}

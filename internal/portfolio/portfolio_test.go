package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/paper-trader/internal/config"
	"github.com/amirphl/paper-trader/internal/market"
	"github.com/amirphl/paper-trader/internal/order"
)

// zero execution costs so balances below work out to round numbers
func testConfig() config.Config {
	return config.Config{
		Mode:                 ModeManual,
		Symbols:              []string{"BTCUSDT"},
		InitialBalance:       10000,
		Currency:             "USDT",
		EquitySampleInterval: 30 * time.Second,
		Trading: config.TradingConfig{
			MaxLeverage:      20,
			MaxOpenPositions: 2,
			TP1ClosePercent:  50,
			TP2ClosePercent:  30,
		},
	}
}

func longRequest() order.OpenRequest {
	return order.OpenRequest{
		Symbol:      "BTCUSDT",
		Side:        order.SideLong,
		EntryPrice:  100,
		Quantity:    1,
		Leverage:    5,
		StopLoss:    95,
		TakeProfit1: 110,
	}
}

func tick(price float64, at time.Time) market.Tick {
	return market.Tick{Symbol: "BTCUSDT", Price: price, Quantity: 1, Side: "buy", Timestamp: at}
}

func TestPortfolio_Open(t *testing.T) {
	now := time.Now()

	t.Run("margin reserved against balance", func(t *testing.T) {
		pf := New(testConfig(), now)
		p, err := pf.Open(longRequest(), now)
		require.NoError(t, err)
		assert.InDelta(t, 20.0, p.MarginUsed, 1e-9)

		st := pf.Snapshot()
		assert.InDelta(t, 10000.0, st.Balance, 1e-9) // no fees configured
		assert.InDelta(t, 20.0, st.MarginInUse, 1e-9)
		require.Len(t, st.OpenPositions, 1)
	})

	t.Run("insufficient margin", func(t *testing.T) {
		pf := New(testConfig(), now)
		req := longRequest()
		req.Quantity = 5000 // margin 100000 > balance
		_, err := pf.Open(req, now)
		assert.ErrorIs(t, err, ErrInsufficientMargin)
		assert.Empty(t, pf.Snapshot().OpenPositions)
	})

	t.Run("max open positions", func(t *testing.T) {
		pf := New(testConfig(), now)
		_, err := pf.Open(longRequest(), now)
		require.NoError(t, err)
		_, err = pf.Open(longRequest(), now)
		require.NoError(t, err)
		_, err = pf.Open(longRequest(), now)
		assert.ErrorIs(t, err, ErrMaxPositionsExceeded)
	})

	t.Run("entry fee charged to balance", func(t *testing.T) {
		cfg := testConfig()
		cfg.Execution = config.ExecutionConfig{TakerFeePercent: 0.1, UseMarketOrders: true}
		pf := New(cfg, now)
		_, err := pf.Open(longRequest(), now)
		require.NoError(t, err)
		assert.InDelta(t, 10000.0-0.1, pf.Snapshot().Balance, 1e-9)
	})
}

func TestPortfolio_ApplyTick_PartialAndClose(t *testing.T) {
	now := time.Now()
	pf := New(testConfig(), now)
	_, err := pf.Open(longRequest(), now)
	require.NoError(t, err)

	// TP1: half the quantity banks (110-100)*0.5 = 5.
	closed, err := pf.ApplyTick(tick(110, now.Add(time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, closed)
	st := pf.Snapshot()
	assert.InDelta(t, 10005.0, st.Balance, 1e-9)
	require.Len(t, st.OpenPositions, 1)
	assert.True(t, st.OpenPositions[0].TP1Hit)

	// Stop-out of the remaining half: (95-100)*0.5 = -2.5.
	closed, err = pf.ApplyTick(tick(95, now.Add(2*time.Minute)))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, order.ExitStopLoss, closed[0].ExitReason)
	assert.InDelta(t, -2.5, closed[0].NetPnl, 1e-9)
	assert.InDelta(t, 5.0, closed[0].PartialPnl, 1e-9)

	st = pf.Snapshot()
	assert.Empty(t, st.OpenPositions)
	assert.InDelta(t, 10002.5, st.Balance, 1e-9)
	assert.InDelta(t, st.Balance, st.Equity, 1e-9)
	require.Len(t, st.History, 1)
}

func TestPortfolio_EquityInvariant(t *testing.T) {
	// Equity must equal balance plus the sum of unrealized P&L at every
	// point, and must not jump when a close merely converts unrealized to
	// realized.
	now := time.Now()
	pf := New(testConfig(), now)
	_, err := pf.Open(longRequest(), now)
	require.NoError(t, err)

	for i, price := range []float64{101, 99, 104, 102} {
		_, err := pf.ApplyTick(tick(price, now.Add(time.Duration(i+1)*time.Minute)))
		require.NoError(t, err)
		st := pf.Snapshot()
		var unrealized float64
		for _, p := range st.OpenPositions {
			unrealized += p.UnrealizedPnl
		}
		assert.InDelta(t, st.Balance+unrealized, st.Equity, 1e-9)
	}

	// Close at the last price: equity unchanged, only its composition.
	before := pf.Snapshot().Equity
	st := pf.Snapshot()
	_, err = pf.Close(st.OpenPositions[0].ID, order.ExitManual, now.Add(time.Hour))
	require.NoError(t, err)
	after := pf.Snapshot()
	assert.InDelta(t, before, after.Equity, 1e-9)
	assert.InDelta(t, after.Balance, after.Equity, 1e-9)
}

func TestPortfolio_BadTickRejected(t *testing.T) {
	now := time.Now()
	pf := New(testConfig(), now)
	_, err := pf.Open(longRequest(), now)
	require.NoError(t, err)
	before := pf.Snapshot()

	for _, price := range []float64{math.NaN(), math.Inf(1), -1, 0} {
		_, err := pf.ApplyTick(tick(price, now.Add(time.Minute)))
		assert.ErrorIs(t, err, market.ErrBadTick)
	}

	after := pf.Snapshot()
	assert.Equal(t, before.Balance, after.Balance)
	assert.Equal(t, before.Equity, after.Equity)
	assert.Len(t, after.OpenPositions, 1)
	assert.Len(t, after.EquityCurve, len(before.EquityCurve))
}

func TestPortfolio_CloseTwice(t *testing.T) {
	now := time.Now()
	pf := New(testConfig(), now)
	p, err := pf.Open(longRequest(), now)
	require.NoError(t, err)

	_, err = pf.ApplyTick(tick(103, now.Add(time.Minute)))
	require.NoError(t, err)

	first, err := pf.Close(p.ID, order.ExitManual, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, order.ExitManual, first.ExitReason)
	balance := pf.Snapshot().Balance

	// A closed id has left the open set: the second close reports not-found
	// and realizes nothing twice.
	_, err = pf.Close(p.ID, order.ExitManual, now.Add(3*time.Minute))
	assert.ErrorIs(t, err, ErrPositionNotFound)
	assert.Equal(t, balance, pf.Snapshot().Balance)
	assert.Len(t, pf.Snapshot().History, 1)
}

func TestPortfolio_CloseUnknown(t *testing.T) {
	pf := New(testConfig(), time.Now())
	_, err := pf.Close("no-such-id", order.ExitManual, time.Now())
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestPortfolio_Reset(t *testing.T) {
	now := time.Now()
	pf := New(testConfig(), now)
	p, err := pf.Open(longRequest(), now)
	require.NoError(t, err)
	_, err = pf.ApplyTick(tick(110, now.Add(time.Minute)))
	require.NoError(t, err)
	_, err = pf.Close(p.ID, order.ExitManual, now.Add(2*time.Minute))
	require.NoError(t, err)

	later := now.Add(time.Hour)
	pf.Reset(later)

	st := pf.Snapshot()
	assert.InDelta(t, 10000.0, st.Balance, 1e-9)
	assert.InDelta(t, 10000.0, st.Equity, 1e-9)
	assert.Empty(t, st.OpenPositions)
	assert.Empty(t, st.History)
	assert.Equal(t, later, st.StartTime)
	require.Len(t, st.EquityCurve, 1) // fresh seed sample only
	assert.InDelta(t, 10000.0, st.EquityCurve[0].Equity, 1e-9)

	// The portfolio is fully usable again after a reset.
	_, err = pf.Open(longRequest(), later)
	require.NoError(t, err)
}

func TestPortfolio_EquitySamplingThrottled(t *testing.T) {
	now := time.Now()
	pf := New(testConfig(), now)
	_, err := pf.Open(longRequest(), now)
	require.NoError(t, err)
	base := len(pf.Snapshot().EquityCurve)

	// Ticks inside the 30s window do not add samples.
	_, err = pf.ApplyTick(tick(101, now.Add(5*time.Second)))
	require.NoError(t, err)
	_, err = pf.ApplyTick(tick(102, now.Add(10*time.Second)))
	require.NoError(t, err)
	assert.Len(t, pf.Snapshot().EquityCurve, base)

	// A tick past the window samples.
	_, err = pf.ApplyTick(tick(103, now.Add(31*time.Second)))
	require.NoError(t, err)
	assert.Len(t, pf.Snapshot().EquityCurve, base+1)

	// A close samples immediately regardless of the window.
	_, err = pf.ApplyTick(tick(95, now.Add(32*time.Second)))
	require.NoError(t, err)
	assert.Len(t, pf.Snapshot().EquityCurve, base+2)
}

func TestPortfolio_EquitySamplesCarryOpenCount(t *testing.T) {
	now := time.Now()
	pf := New(testConfig(), now)

	st := pf.Snapshot()
	require.Len(t, st.EquityCurve, 1)
	assert.Equal(t, 0, st.EquityCurve[0].OpenPositions)

	p, err := pf.Open(longRequest(), now)
	require.NoError(t, err)
	_, err = pf.ApplyTick(tick(101, now.Add(time.Minute)))
	require.NoError(t, err)

	st = pf.Snapshot()
	latest := st.EquityCurve[len(st.EquityCurve)-1]
	assert.Equal(t, 1, latest.OpenPositions)

	// The forced close sample records the position already gone.
	_, err = pf.Close(p.ID, order.ExitManual, now.Add(2*time.Minute))
	require.NoError(t, err)
	st = pf.Snapshot()
	latest = st.EquityCurve[len(st.EquityCurve)-1]
	assert.Equal(t, 0, latest.OpenPositions)
}

func TestPortfolio_LastUpdated(t *testing.T) {
	now := time.Now()
	pf := New(testConfig(), now)
	assert.Equal(t, now, pf.Snapshot().LastUpdated)

	opened := now.Add(time.Minute)
	p, err := pf.Open(longRequest(), opened)
	require.NoError(t, err)
	assert.Equal(t, opened, pf.Snapshot().LastUpdated)

	ticked := now.Add(2 * time.Minute)
	_, err = pf.ApplyTick(tick(101, ticked))
	require.NoError(t, err)
	assert.Equal(t, ticked, pf.Snapshot().LastUpdated)

	closed := now.Add(3 * time.Minute)
	_, err = pf.Close(p.ID, order.ExitManual, closed)
	require.NoError(t, err)
	assert.Equal(t, closed, pf.Snapshot().LastUpdated)

	later := now.Add(time.Hour)
	pf.Reset(later)
	assert.Equal(t, later, pf.Snapshot().LastUpdated)
}

func TestPortfolio_SetMode(t *testing.T) {
	pf := New(testConfig(), time.Now())
	require.NoError(t, pf.SetMode(ModeAutomatic))
	assert.Equal(t, ModeAutomatic, pf.Snapshot().Mode)
	assert.Error(t, pf.SetMode("turbo"))
}

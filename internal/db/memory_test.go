package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/paper-trader/internal/backtest"
	"github.com/amirphl/paper-trader/internal/journal"
	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/portfolio"
)

func TestMemoryStorage_Orders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	o1 := order.Order{ID: "a", Symbol: "BTCUSDT", ExitTime: now.Add(-time.Hour), NetPnl: 5}
	o2 := order.Order{ID: "b", Symbol: "BTCUSDT", ExitTime: now, NetPnl: -2}
	o3 := order.Order{ID: "c", Symbol: "ETHUSDT", ExitTime: now, NetPnl: 1}
	require.NoError(t, m.SaveOrder(ctx, o1))
	require.NoError(t, m.SaveOrder(ctx, o2))
	require.NoError(t, m.SaveOrder(ctx, o3))

	got, err := m.GetOrders(ctx, "BTCUSDT", now.Add(-24*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID) // ordered by exit time
	assert.Equal(t, "b", got[1].ID)

	// Empty symbol matches everything.
	got, err = m.GetOrders(ctx, "", now.Add(-24*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// Saving the same ID twice overwrites, not duplicates.
	require.NoError(t, m.SaveOrder(ctx, o2))
	got, err = m.GetOrders(ctx, "BTCUSDT", now.Add(-24*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryStorage_EquitySamples(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		s := portfolio.EquitySample{
			Time:          now.Add(time.Duration(i) * time.Minute),
			Equity:        10000 + float64(i),
			OpenPositions: i,
		}
		require.NoError(t, m.SaveEquitySample(ctx, s))
	}

	got, err := m.GetEquitySamples(ctx, now, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2) // end is exclusive
	assert.Equal(t, 10000.0, got[0].Equity)
	assert.Equal(t, 1, got[1].OpenPositions)
}

func TestMemoryStorage_Events(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, m.LogEvent(ctx, journal.Event{Time: now, Type: journal.EventPositionOpened, Symbol: "BTCUSDT", Description: "opened"}))
	require.NoError(t, m.LogEvent(ctx, journal.Event{Time: now, Type: journal.EventPositionClosed, Symbol: "BTCUSDT", Description: "closed"}))

	got, err := m.GetEvents(ctx, journal.EventPositionOpened, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "opened", got[0].Description)
}

func TestMemoryStorage_Baselines(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	got, err := m.GetLatestBaseline(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	older := backtest.Baseline{WinRate: 0.5, Timestamp: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}
	newer := backtest.Baseline{WinRate: 0.6, Timestamp: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, m.SaveBaseline(ctx, newer))
	require.NoError(t, m.SaveBaseline(ctx, older))

	got, err = m.GetLatestBaseline(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.6, got.WinRate)

	// Invalid baselines are refused.
	assert.Error(t, m.SaveBaseline(ctx, backtest.Baseline{WinRate: 2}))
}

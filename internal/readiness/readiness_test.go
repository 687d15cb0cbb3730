package readiness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/paper-trader/internal/backtest"
	"github.com/amirphl/paper-trader/internal/config"
	"github.com/amirphl/paper-trader/internal/metrics"
)

func testReadinessConfig() config.ReadinessConfig {
	return config.ReadinessConfig{
		MinTrades:                 30,
		MinWinRate:                0.5,
		MaxDrawdownPercent:        15,
		MinElapsed:                7 * 24 * time.Hour,
		BaselineWinRateTolerance:  0.1,
		BaselineDrawdownTolerance: 5,
	}
}

func passingReport() metrics.Report {
	return metrics.Report{
		TotalTrades:        45,
		WinRate:            0.55,
		MaxDrawdownPercent: 8,
		TotalPnl:           320,
	}
}

func TestEvaluate_Ready(t *testing.T) {
	now := time.Now()
	start := now.Add(-10 * 24 * time.Hour)

	ev := Evaluate(passingReport(), start, now, nil, testReadinessConfig())
	assert.Equal(t, VerdictReady, ev.Verdict)
	assert.Equal(t, 5, ev.Total) // baseline criteria omitted without a baseline
	assert.Equal(t, 5, ev.Passed)
}

func TestEvaluate_AlmostReady(t *testing.T) {
	// 4 of 5 pass (not enough trades yet): 80% clears the almost_ready bar.
	now := time.Now()
	start := now.Add(-10 * 24 * time.Hour)
	report := passingReport()
	report.TotalTrades = 12

	ev := Evaluate(report, start, now, nil, testReadinessConfig())
	assert.Equal(t, VerdictAlmostReady, ev.Verdict)
	assert.Equal(t, 4, ev.Passed)
	assert.Equal(t, 5, ev.Total)

	var failed []string
	for _, c := range ev.Criteria {
		if !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	assert.Equal(t, []string{"minimum trades"}, failed)
}

func TestEvaluate_NotReady(t *testing.T) {
	now := time.Now()
	start := now.Add(-time.Hour) // far short of the minimum elapsed time
	report := metrics.Report{
		TotalTrades:        5,
		WinRate:            0.3,
		MaxDrawdownPercent: 22,
		TotalPnl:           -150,
	}

	ev := Evaluate(report, start, now, nil, testReadinessConfig())
	assert.Equal(t, VerdictNotReady, ev.Verdict)
	assert.Zero(t, ev.Passed)
}

func TestEvaluate_BaselineCriteria(t *testing.T) {
	now := time.Now()
	start := now.Add(-10 * 24 * time.Hour)
	baseline := &backtest.Baseline{
		TotalTrades:        120,
		WinRate:            0.6,
		MaxDrawdownPercent: 10,
	}

	t.Run("within tolerances", func(t *testing.T) {
		ev := Evaluate(passingReport(), start, now, baseline, testReadinessConfig())
		assert.Equal(t, 7, ev.Total)
		assert.Equal(t, VerdictReady, ev.Verdict)
	})

	t.Run("live win rate degraded beyond tolerance", func(t *testing.T) {
		report := passingReport()
		report.WinRate = 0.45 // below 0.6 - 0.1
		ev := Evaluate(report, start, now, baseline, testReadinessConfig())
		require.Equal(t, 7, ev.Total)
		assert.Equal(t, 5, ev.Passed) // also fails the absolute 50% gate
		assert.Equal(t, VerdictAlmostReady, ev.Verdict)
	})

	t.Run("live drawdown beyond tolerance", func(t *testing.T) {
		report := passingReport()
		report.MaxDrawdownPercent = 16 // over both 15 absolute and 10+5 baseline
		ev := Evaluate(report, start, now, baseline, testReadinessConfig())
		assert.Equal(t, 5, ev.Passed)
		assert.Equal(t, VerdictAlmostReady, ev.Verdict)
	})
}

// Package readiness turns a performance report into a go/no-go verdict for
// switching the strategy from paper to live trading.
package readiness

import (
	"fmt"
	"time"

	"github.com/amirphl/paper-trader/internal/backtest"
	"github.com/amirphl/paper-trader/internal/config"
	"github.com/amirphl/paper-trader/internal/metrics"
)

// Verdict is the overall readiness state.
type Verdict string

const (
	VerdictReady       Verdict = "ready"        // every criterion passed
	VerdictAlmostReady Verdict = "almost_ready" // at least 70% passed
	VerdictNotReady    Verdict = "not_ready"
)

// almostReadyThreshold is the fraction of criteria that must pass for the
// almost_ready verdict.
const almostReadyThreshold = 0.7

// Criterion is one evaluated go-live gate.
type Criterion struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Actual string `json:"actual"`
	Target string `json:"target"`
}

// Evaluation is the full readiness result.
type Evaluation struct {
	Verdict     Verdict     `json:"verdict"`
	Criteria    []Criterion `json:"criteria"`
	Passed      int         `json:"passed"`
	Total       int         `json:"total"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Evaluate checks the live paper results against the configured gates.
// Baseline-comparison criteria are only included when a baseline is loaded;
// with no baseline they are omitted entirely rather than counted as failed.
func Evaluate(report metrics.Report, start, now time.Time, baseline *backtest.Baseline, cfg config.ReadinessConfig) Evaluation {
	elapsed := now.Sub(start)

	criteria := []Criterion{
		{
			Name:   "minimum trades",
			Passed: report.TotalTrades >= cfg.MinTrades,
			Actual: fmt.Sprintf("%d", report.TotalTrades),
			Target: fmt.Sprintf(">= %d", cfg.MinTrades),
		},
		{
			Name:   "win rate",
			Passed: report.WinRate >= cfg.MinWinRate,
			Actual: fmt.Sprintf("%.1f%%", report.WinRate*100),
			Target: fmt.Sprintf(">= %.1f%%", cfg.MinWinRate*100),
		},
		{
			Name:   "max drawdown",
			Passed: report.MaxDrawdownPercent <= cfg.MaxDrawdownPercent,
			Actual: fmt.Sprintf("%.1f%%", report.MaxDrawdownPercent),
			Target: fmt.Sprintf("<= %.1f%%", cfg.MaxDrawdownPercent),
		},
		{
			Name:   "simulation time",
			Passed: elapsed >= cfg.MinElapsed,
			Actual: elapsed.Round(time.Minute).String(),
			Target: fmt.Sprintf(">= %s", cfg.MinElapsed),
		},
		{
			Name:   "net profitable",
			Passed: report.TotalPnl > 0,
			Actual: fmt.Sprintf("%.2f", report.TotalPnl),
			Target: "> 0",
		},
	}

	if baseline != nil {
		criteria = append(criteria,
			Criterion{
				Name:   "win rate vs backtest",
				Passed: report.WinRate >= baseline.WinRate-cfg.BaselineWinRateTolerance,
				Actual: fmt.Sprintf("%.1f%%", report.WinRate*100),
				Target: fmt.Sprintf(">= %.1f%% (backtest %.1f%% - %.1f%% tolerance)",
					(baseline.WinRate-cfg.BaselineWinRateTolerance)*100, baseline.WinRate*100, cfg.BaselineWinRateTolerance*100),
			},
			Criterion{
				Name:   "drawdown vs backtest",
				Passed: report.MaxDrawdownPercent <= baseline.MaxDrawdownPercent+cfg.BaselineDrawdownTolerance,
				Actual: fmt.Sprintf("%.1f%%", report.MaxDrawdownPercent),
				Target: fmt.Sprintf("<= %.1f%% (backtest %.1f%% + %.1f%% tolerance)",
					baseline.MaxDrawdownPercent+cfg.BaselineDrawdownTolerance, baseline.MaxDrawdownPercent, cfg.BaselineDrawdownTolerance),
			},
		)
	}

	ev := Evaluation{Criteria: criteria, Total: len(criteria), GeneratedAt: now}
	for _, c := range criteria {
		if c.Passed {
			ev.Passed++
		}
	}

	switch {
	case ev.Passed == ev.Total:
		ev.Verdict = VerdictReady
	case float64(ev.Passed)/float64(ev.Total) >= almostReadyThreshold:
		ev.Verdict = VerdictAlmostReady
	default:
		ev.Verdict = VerdictNotReady
	}
	return ev
}

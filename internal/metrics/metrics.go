// Package metrics
package metrics

import (
	"encoding/json"
	"math"
	"time"

	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/portfolio"
)

// Ratio is a float64 that marshals +Inf as the string "inf" instead of
// breaking JSON encoding. Used for profit factor, which is legitimately
// infinite when there are wins and no losses.
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(r), 1) {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == `"inf"` {
		*r = Ratio(math.Inf(1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Ratio(v)
	return nil
}

// Report is the full performance summary over a set of closed orders and an
// equity curve. All per-order P&L figures include partial-close realizations.
type Report struct {
	TotalTrades int `json:"total_trades"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`

	WinRate      float64 `json:"win_rate"` // fraction, 0.5 = 50%
	LongTrades   int     `json:"long_trades"`
	ShortTrades  int     `json:"short_trades"`
	LongWinRate  float64 `json:"long_win_rate"`
	ShortWinRate float64 `json:"short_win_rate"`

	TotalPnl        float64 `json:"total_pnl"`
	TotalPnlPercent float64 `json:"total_pnl_percent"` // on initial balance

	ProfitFactor      Ratio `json:"profit_factor"`
	ProfitFactorIsInf bool  `json:"profit_factor_is_inf"`

	SharpeRatio        float64 `json:"sharpe_ratio"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`

	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"` // negative
	Expectancy  float64 `json:"expectancy"` // R-multiples per trade
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"` // negative

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	TotalFees    float64 `json:"total_fees"`
	TotalFunding float64 `json:"total_funding"`

	PnlToday     float64 `json:"pnl_today"`
	PnlThisWeek  float64 `json:"pnl_this_week"`
	PnlThisMonth float64 `json:"pnl_this_month"`

	InitialBalance float64 `json:"initial_balance"`
	CurrentEquity  float64 `json:"current_equity"`
}

// Compute aggregates closed orders and the equity curve into a report.
// sampleInterval is the equity curve's nominal cadence, used to annualize the
// Sharpe ratio; zero disables annualization.
func Compute(orders []order.Order, curve []portfolio.EquitySample, initialBalance float64, now time.Time, sampleInterval time.Duration) Report {
	r := Report{
		TotalTrades:    len(orders),
		InitialBalance: initialBalance,
	}
	if len(curve) > 0 {
		r.CurrentEquity = curve[len(curve)-1].Equity
	} else {
		r.CurrentEquity = initialBalance
	}

	var (
		grossProfit, grossLoss float64
		longWins, shortWins    int
		sumRisk                float64
		curWins, curLosses     int
	)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, -1, 0)

	for _, o := range orders {
		pnl := o.TotalPnl()
		r.TotalPnl += pnl
		r.TotalFees += o.Fees
		r.TotalFunding += o.Funding
		sumRisk += o.RiskedAmount()

		if o.Side == order.SideLong {
			r.LongTrades++
		} else {
			r.ShortTrades++
		}

		if o.Win() {
			r.Wins++
			grossProfit += pnl
			if o.Side == order.SideLong {
				longWins++
			} else {
				shortWins++
			}
			if pnl > r.LargestWin {
				r.LargestWin = pnl
			}
			curWins++
			curLosses = 0
			if curWins > r.MaxConsecutiveWins {
				r.MaxConsecutiveWins = curWins
			}
		} else {
			r.Losses++
			grossLoss += -pnl
			if pnl < r.LargestLoss {
				r.LargestLoss = pnl
			}
			curLosses++
			curWins = 0
			if curLosses > r.MaxConsecutiveLosses {
				r.MaxConsecutiveLosses = curLosses
			}
		}

		if !o.ExitTime.Before(startOfDay) {
			r.PnlToday += pnl
		}
		if !o.ExitTime.Before(weekAgo) {
			r.PnlThisWeek += pnl
		}
		if !o.ExitTime.Before(monthAgo) {
			r.PnlThisMonth += pnl
		}
	}

	if r.TotalTrades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.TotalTrades)
	}
	if r.LongTrades > 0 {
		r.LongWinRate = float64(longWins) / float64(r.LongTrades)
	}
	if r.ShortTrades > 0 {
		r.ShortWinRate = float64(shortWins) / float64(r.ShortTrades)
	}
	if initialBalance > 0 {
		r.TotalPnlPercent = r.TotalPnl / initialBalance * 100
	}
	if r.Wins > 0 {
		r.AvgWin = grossProfit / float64(r.Wins)
	}
	if r.Losses > 0 {
		r.AvgLoss = -grossLoss / float64(r.Losses)
	}
	if sumRisk > 0 {
		r.Expectancy = r.TotalPnl / sumRisk
	}

	switch {
	case grossLoss > 0:
		r.ProfitFactor = Ratio(grossProfit / grossLoss)
	case grossProfit > 0:
		// Wins and no losses: the ratio is genuinely infinite, not an
		// arbitrary large stand-in.
		r.ProfitFactor = Ratio(math.Inf(1))
		r.ProfitFactorIsInf = true
	}

	r.SharpeRatio = sharpe(curve, sampleInterval)
	r.MaxDrawdown, r.MaxDrawdownPercent = maxDrawdown(curve)
	return r
}

// sharpe computes the Sharpe ratio of per-sample equity returns, annualized
// by the sampling cadence. Risk-free rate is taken as zero.
func sharpe(curve []portfolio.EquitySample, sampleInterval time.Duration) float64 {
	if len(curve) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, ret := range returns {
		mean += ret
	}
	mean /= float64(len(returns))

	var variance float64
	for _, ret := range returns {
		variance += (ret - mean) * (ret - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}

	s := mean / math.Sqrt(variance)
	if sampleInterval > 0 {
		periodsPerYear := float64(365*24*time.Hour) / float64(sampleInterval)
		s *= math.Sqrt(periodsPerYear)
	}
	return s
}

// maxDrawdown walks the equity curve tracking the running peak and returns
// the deepest absolute and percentage drop from any peak.
func maxDrawdown(curve []portfolio.EquitySample) (float64, float64) {
	var peak, maxAbs, maxPct float64
	for _, s := range curve {
		if s.Equity > peak {
			peak = s.Equity
		}
		dd := peak - s.Equity
		if dd > maxAbs {
			maxAbs = dd
		}
		if peak > 0 {
			if pct := dd / peak * 100; pct > maxPct {
				maxPct = pct
			}
		}
	}
	return maxAbs, maxPct
}

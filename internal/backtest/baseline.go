// Package backtest holds the backtest baseline that live paper results are
// compared against during readiness evaluation. The baseline itself is
// produced offline; this package only loads and persists it.
package backtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/amirphl/paper-trader/internal/metrics"
)

var ErrInvalidBaseline = errors.New("invalid baseline")

// Baseline is the reference performance from a strategy backtest.
type Baseline struct {
	Strategy           string        `json:"strategy,omitempty"`
	Symbols            []string      `json:"symbols,omitempty"`
	TotalTrades        int           `json:"total_trades"`
	WinRate            float64       `json:"win_rate"` // fraction, 0.5 = 50%
	ProfitFactor       metrics.Ratio `json:"profit_factor"`
	MaxDrawdownPercent float64       `json:"max_drawdown_percent"`
	Timestamp          time.Time     `json:"timestamp"`
}

// Validate rejects baselines with out-of-range figures rather than letting a
// corrupt file silently loosen the readiness gates.
func (b Baseline) Validate() error {
	if b.TotalTrades < 0 {
		return fmt.Errorf("%w: negative trade count %d", ErrInvalidBaseline, b.TotalTrades)
	}
	if b.WinRate < 0 || b.WinRate > 1 {
		return fmt.Errorf("%w: win rate %.4f outside [0, 1]", ErrInvalidBaseline, b.WinRate)
	}
	if b.MaxDrawdownPercent < 0 || b.MaxDrawdownPercent > 100 {
		return fmt.Errorf("%w: max drawdown %.2f%% outside [0, 100]", ErrInvalidBaseline, b.MaxDrawdownPercent)
	}
	return nil
}

// Load reads and validates a baseline JSON file.
func Load(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse baseline file: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Save writes the baseline next to where Load expects it.
func Save(path string, b Baseline) error {
	if err := b.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

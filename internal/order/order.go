// Package order
package order

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidRequest marks an open request that failed validation before any
// state was touched.
var ErrInvalidRequest = errors.New("invalid open request")

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ExitReason records what closed a position.
type ExitReason string

const (
	ExitTP1         ExitReason = "tp1"
	ExitTP2         ExitReason = "tp2"
	ExitTP3         ExitReason = "tp3"
	ExitStopLoss    ExitReason = "sl"
	ExitTrailingSL  ExitReason = "trailing_sl"
	ExitLiquidation ExitReason = "liquidation"
	ExitManual      ExitReason = "manual"
)

// Provenance carries the originating signal's scoring fields so closed orders
// can later be correlated back to signal quality.
type Provenance struct {
	Score            float64  `json:"score"`
	Confidence       float64  `json:"confidence"`
	ModelProbability float64  `json:"model_probability"`
	Indicators       []string `json:"indicators,omitempty"`
}

// OpenRequest describes a position to be opened by the portfolio.
// TakeProfit1 is mandatory; TakeProfit2/3 are nil when not configured, which
// is a different state from "configured but not yet hit".
type OpenRequest struct {
	Symbol      string     `json:"symbol"`
	Side        Side       `json:"side"`
	EntryPrice  float64    `json:"entry_price"`
	Quantity    float64    `json:"quantity"`
	Leverage    float64    `json:"leverage"`
	StopLoss    float64    `json:"stop_loss"`
	TakeProfit1 float64    `json:"take_profit_1"`
	TakeProfit2 *float64   `json:"take_profit_2,omitempty"`
	TakeProfit3 *float64   `json:"take_profit_3,omitempty"`
	Signal      Provenance `json:"signal"`
}

// Validate checks everything that can be checked without portfolio state.
func (r OpenRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidRequest)
	}
	if r.Side != SideLong && r.Side != SideShort {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidRequest, r.Side)
	}
	for name, v := range map[string]float64{
		"entry price":  r.EntryPrice,
		"quantity":     r.Quantity,
		"leverage":     r.Leverage,
		"stop loss":    r.StopLoss,
		"take profit1": r.TakeProfit1,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite %s", ErrInvalidRequest, name)
		}
		if v <= 0 {
			return fmt.Errorf("%w: non-positive %s", ErrInvalidRequest, name)
		}
	}
	if r.Side == SideLong {
		if r.StopLoss >= r.EntryPrice {
			return fmt.Errorf("%w: long stop loss %.8f not below entry %.8f", ErrInvalidRequest, r.StopLoss, r.EntryPrice)
		}
		if r.TakeProfit1 <= r.EntryPrice {
			return fmt.Errorf("%w: long take profit1 %.8f not above entry %.8f", ErrInvalidRequest, r.TakeProfit1, r.EntryPrice)
		}
	} else {
		if r.StopLoss <= r.EntryPrice {
			return fmt.Errorf("%w: short stop loss %.8f not above entry %.8f", ErrInvalidRequest, r.StopLoss, r.EntryPrice)
		}
		if r.TakeProfit1 >= r.EntryPrice {
			return fmt.Errorf("%w: short take profit1 %.8f not below entry %.8f", ErrInvalidRequest, r.TakeProfit1, r.EntryPrice)
		}
	}
	if err := validateTPChain(r.Side, r.TakeProfit1, r.TakeProfit2, r.TakeProfit3); err != nil {
		return err
	}
	return nil
}

// validateTPChain enforces tp1 < tp2 < tp3 for longs (mirrored for shorts)
// and rejects tp3 without tp2.
func validateTPChain(side Side, tp1 float64, tp2, tp3 *float64) error {
	if tp3 != nil && tp2 == nil {
		return fmt.Errorf("%w: take profit3 configured without take profit2", ErrInvalidRequest)
	}
	prev := tp1
	for i, tp := range []*float64{tp2, tp3} {
		if tp == nil {
			continue
		}
		v := *tp
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: invalid take profit%d", ErrInvalidRequest, i+2)
		}
		if side == SideLong && v <= prev {
			return fmt.Errorf("%w: take profit%d %.8f not above previous level %.8f", ErrInvalidRequest, i+2, v, prev)
		}
		if side == SideShort && v >= prev {
			return fmt.Errorf("%w: take profit%d %.8f not below previous level %.8f", ErrInvalidRequest, i+2, v, prev)
		}
		prev = v
	}
	return nil
}

// Order is the immutable record of a fully closed position. It is created
// exactly once per full close and appended to history, never mutated.
//
// GrossPnl and NetPnl cover the final closing fill of the remaining quantity;
// P&L realized earlier by partial closes is carried in PartialPnl.
type Order struct {
	ID         string     `json:"id"`
	PositionID string     `json:"position_id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`

	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitPrice  float64   `json:"exit_price"`
	ExitTime   time.Time `json:"exit_time"`

	Quantity       float64 `json:"quantity"`        // original size
	QuantityClosed float64 `json:"quantity_closed"` // size of the final fill
	Leverage       float64 `json:"leverage"`
	MarginUsed     float64 `json:"margin_used"`
	StopLoss       float64 `json:"stop_loss"`

	GrossPnl   float64 `json:"gross_pnl"`
	Fees       float64 `json:"fees"` // all fees over the position's lifetime
	Funding    float64 `json:"funding"`
	NetPnl     float64 `json:"net_pnl"`
	PartialPnl float64 `json:"partial_pnl"`
	PnlPercent float64 `json:"pnl_percent"` // net return on margin

	ExitReason ExitReason    `json:"exit_reason"`
	Duration   time.Duration `json:"duration"`

	Signal Provenance `json:"signal"`
}

// Win reports whether the order's net result (final fill plus earlier
// partials) was profitable.
func (o Order) Win() bool {
	return o.NetPnl+o.PartialPnl > 0
}

// TotalPnl is the net result of the whole position including partial closes.
func (o Order) TotalPnl() float64 {
	return o.NetPnl + o.PartialPnl
}

// RiskedAmount is the amount put at risk at entry, used for R-multiple
// expectancy. Zero when the stop distance is degenerate.
func (o Order) RiskedAmount() float64 {
	return math.Abs(o.EntryPrice-o.StopLoss) * o.Quantity
}

// Package position
package position

import (
	"time"

	"github.com/amirphl/paper-trader/internal/order"
)

// Status of a position's lifecycle.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Position is a single simulated leveraged trade. It is owned exclusively by
// the portfolio and mutated only by the lifecycle Manager during tick
// processing or explicit close commands.
//
// Invariant: 0 <= QuantityRemaining <= Quantity, and QuantityRemaining == 0
// exactly when Status == StatusClosed.
type Position struct {
	ID     string     `json:"id"`
	Symbol string     `json:"symbol"`
	Side   order.Side `json:"side"`
	Status Status     `json:"status"`

	EntryPrice float64   `json:"entry_price"` // simulated fill, not the requested price
	EntryTime  time.Time `json:"entry_time"`

	Quantity          float64 `json:"quantity"`
	QuantityRemaining float64 `json:"quantity_remaining"`
	Leverage          float64 `json:"leverage"`
	MarginUsed        float64 `json:"margin_used"` // shrinks as partials release margin

	StopLoss    float64  `json:"stop_loss"`
	TakeProfit1 float64  `json:"take_profit_1"`
	TakeProfit2 *float64 `json:"take_profit_2,omitempty"` // nil = not configured
	TakeProfit3 *float64 `json:"take_profit_3,omitempty"`
	TP1Hit      bool     `json:"tp1_hit"`
	TP2Hit      bool     `json:"tp2_hit"`

	TrailingActive          bool    `json:"trailing_active"`
	TrailingDistancePercent float64 `json:"trailing_distance_percent"`
	HighWaterMark           float64 `json:"high_water_mark"`    // best price seen since trailing activated
	TrailingStopPrice       float64 `json:"trailing_stop_price"` // tightens only, never loosens

	CurrentPrice         float64 `json:"current_price"`
	UnrealizedPnl        float64 `json:"unrealized_pnl"`
	UnrealizedPnlPercent float64 `json:"unrealized_pnl_percent"` // return on margin
	LiquidationPrice     float64 `json:"liquidation_price"`

	FundingPaid     float64   `json:"funding_paid"` // accrued, settled at close
	LastFundingTime time.Time `json:"last_funding_time"`

	RealizedPnl float64 `json:"realized_pnl"` // net P&L banked by partial closes
	FeesPaid    float64 `json:"fees_paid"`    // entry + partial-close fees so far

	Signal order.Provenance `json:"signal"`
}

// direction returns +1 for longs, -1 for shorts.
func (p *Position) direction() float64 {
	if p.Side == order.SideShort {
		return -1
	}
	return 1
}

// initialMargin is the margin committed at entry, before partial releases.
func (p *Position) initialMargin() float64 {
	if p.Leverage <= 0 {
		return 0
	}
	return p.EntryPrice * p.Quantity / p.Leverage
}

// markPrice recomputes unrealized P&L against the given price.
func (p *Position) markPrice(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnl = p.direction() * (price - p.EntryPrice) * p.QuantityRemaining
	if p.MarginUsed > 0 {
		p.UnrealizedPnlPercent = p.UnrealizedPnl / p.MarginUsed * 100
	} else {
		p.UnrealizedPnlPercent = 0
	}
}

// favorable reports whether price a is at least as good as price b for this
// position's direction.
func (p *Position) favorable(a, b float64) bool {
	if p.Side == order.SideShort {
		return a <= b
	}
	return a >= b
}

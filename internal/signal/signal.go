// Package signal
package signal

import (
	"time"

	"github.com/amirphl/paper-trader/internal/order"
)

// Candidate is a trade proposal produced by a signal generator. The engine
// consumes it only to populate open requests; it never computes signals
// itself.
type Candidate struct {
	Symbol           string     `json:"symbol"`
	Side             order.Side `json:"side"`
	EntryPrice       float64    `json:"entry_price"`
	StopLoss         float64    `json:"stop_loss"`
	TakeProfit1      float64    `json:"take_profit_1"`
	TakeProfit2      *float64   `json:"take_profit_2,omitempty"`
	TakeProfit3      *float64   `json:"take_profit_3,omitempty"`
	Leverage         float64    `json:"leverage"`
	Quantity         float64    `json:"quantity"`
	Score            float64    `json:"score"`
	Confidence       float64    `json:"confidence"`
	ModelProbability float64    `json:"model_probability"`
	Indicators       []string   `json:"indicators,omitempty"`
	Time             time.Time  `json:"time"`
}

// ToOpenRequest converts the candidate into an open request, copying the
// provenance fields so they survive on the position and its closing order.
func (c Candidate) ToOpenRequest() order.OpenRequest {
	return order.OpenRequest{
		Symbol:      c.Symbol,
		Side:        c.Side,
		EntryPrice:  c.EntryPrice,
		Quantity:    c.Quantity,
		Leverage:    c.Leverage,
		StopLoss:    c.StopLoss,
		TakeProfit1: c.TakeProfit1,
		TakeProfit2: c.TakeProfit2,
		TakeProfit3: c.TakeProfit3,
		Signal: order.Provenance{
			Score:            c.Score,
			Confidence:       c.Confidence,
			ModelProbability: c.ModelProbability,
			Indicators:       c.Indicators,
		},
	}
}

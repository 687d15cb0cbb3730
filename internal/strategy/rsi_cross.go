// Package strategy
package strategy

import (
	"math"
	"time"

	"github.com/amirphl/paper-trader/internal/indicator"
	"github.com/amirphl/paper-trader/internal/market"
	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/signal"
)

// RSICrossParams tunes the RSI crossover generator. Percent values are
// distances from the entry price.
type RSICrossParams struct {
	BarInterval       time.Duration
	Period            int
	Oversold          float64
	Overbought        float64
	StopLossPercent   float64
	TakeProfitPercent float64
	Leverage          float64
	Notional          float64 // quote units committed per candidate
}

func DefaultRSICrossParams() RSICrossParams {
	return RSICrossParams{
		BarInterval:       time.Minute,
		Period:            14,
		Oversold:          30,
		Overbought:        70,
		StopLossPercent:   1.5,
		TakeProfitPercent: 2.0,
		Leverage:          3,
		Notional:          1000,
	}
}

// RSICross emits a long candidate when RSI crosses up through the oversold
// threshold and a short candidate when it crosses down through the overbought
// threshold. Ticks are aggregated into fixed-interval bars and the indicator
// is updated once per bar close.
type RSICross struct {
	params RSICrossParams
	states map[string]*symbolState
}

type symbolState struct {
	rsi      *indicator.RSI
	barStart time.Time
	barClose float64
	hasBar   bool
	prev     float64
	prevOK   bool
}

func NewRSICross(params RSICrossParams) *RSICross {
	if params.BarInterval <= 0 {
		params.BarInterval = time.Minute
	}
	return &RSICross{
		params: params,
		states: make(map[string]*symbolState),
	}
}

func (g *RSICross) OnTick(t market.Tick) []signal.Candidate {
	s, ok := g.states[t.Symbol]
	if !ok {
		s = &symbolState{rsi: indicator.NewRSI(g.params.Period)}
		g.states[t.Symbol] = s
	}

	barStart := t.Timestamp.Truncate(g.params.BarInterval)
	if !s.hasBar {
		s.hasBar = true
		s.barStart = barStart
		s.barClose = t.Price
		return nil
	}
	if barStart.Equal(s.barStart) {
		s.barClose = t.Price
		return nil
	}

	// A new bar opened; the previous one is final.
	value, valueOK := s.rsi.Update(s.barClose)
	prev, prevOK := s.prev, s.prevOK
	s.prev, s.prevOK = value, valueOK
	s.barStart = barStart
	s.barClose = t.Price

	if !valueOK || !prevOK {
		return nil
	}

	switch {
	case prev <= g.params.Oversold && value > g.params.Oversold:
		return []signal.Candidate{g.candidate(t, order.SideLong, g.params.Oversold-prev)}
	case prev >= g.params.Overbought && value < g.params.Overbought:
		return []signal.Candidate{g.candidate(t, order.SideShort, prev-g.params.Overbought)}
	}
	return nil
}

// candidate builds a trade proposal at the current price. depth is how far
// beyond the threshold RSI was before the cross; deeper excursions score
// higher.
func (g *RSICross) candidate(t market.Tick, side order.Side, depth float64) signal.Candidate {
	slDist := t.Price * g.params.StopLossPercent / 100
	tpDist := t.Price * g.params.TakeProfitPercent / 100

	stopLoss := t.Price - slDist
	takeProfit := t.Price + tpDist
	if side == order.SideShort {
		stopLoss = t.Price + slDist
		takeProfit = t.Price - tpDist
	}

	return signal.Candidate{
		Symbol:      t.Symbol,
		Side:        side,
		EntryPrice:  t.Price,
		StopLoss:    stopLoss,
		TakeProfit1: takeProfit,
		Leverage:    g.params.Leverage,
		Quantity:    g.params.Notional / t.Price,
		Score:       60 + math.Min(30, depth*3),
		Confidence:  math.Min(0.95, 0.6+depth/100),
		Indicators:  []string{"rsi"},
		Time:        t.Timestamp,
	}
}

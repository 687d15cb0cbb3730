package position

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/amirphl/paper-trader/internal/config"
	"github.com/amirphl/paper-trader/internal/execution"
	"github.com/amirphl/paper-trader/internal/market"
	"github.com/amirphl/paper-trader/internal/order"
)

// ErrLeverageTooHigh is returned when the requested leverage would make the
// liquidation price trigger before the stop loss.
var ErrLeverageTooHigh = errors.New("leverage too high")

const qtyEpsilon = 1e-9

// PartialClose describes the single partial close produced by one tick
// evaluation. The realized P&L is net of the exit fee.
type PartialClose struct {
	Reason            order.ExitReason
	Quantity          float64
	FillPrice         float64
	Fee               float64
	NetPnl            float64
	MarginReleased    float64
	TrailingActivated bool
}

// Outcome is the result of evaluating one tick against one position. At most
// one of Partial and Closed is set: a position never both partially and fully
// closes on the same tick.
type Outcome struct {
	Partial *PartialClose
	Closed  *order.Order
}

// Manager owns the lifecycle state machine of simulated positions. It holds
// no position state itself; positions are passed in by the portfolio, which
// serializes all mutation.
type Manager struct {
	sim     execution.Simulator
	cfg     config.TradingConfig
	execCfg config.ExecutionConfig
}

func NewManager(sim execution.Simulator, cfg config.TradingConfig, execCfg config.ExecutionConfig) *Manager {
	return &Manager{sim: sim, cfg: cfg, execCfg: execCfg}
}

// Open validates a request and creates a new open position. The entry is
// filled through the execution simulator, so the stored entry price already
// includes spread and slippage; the entry fee is recorded on the position and
// must be charged to the balance by the caller.
func (m *Manager) Open(req order.OpenRequest, now time.Time) (*Position, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Leverage > m.cfg.MaxLeverage {
		return nil, fmt.Errorf("%w: %.1fx exceeds maximum %.1fx", ErrLeverageTooHigh, req.Leverage, m.cfg.MaxLeverage)
	}

	fill, err := m.sim.FillEntry(req.Side, req.EntryPrice, req.Quantity)
	if err != nil {
		return nil, err
	}

	liquidation := m.liquidationPrice(req.Side, fill.Price, req.Leverage)
	if req.Side == order.SideLong && liquidation >= req.StopLoss {
		return nil, fmt.Errorf("%w: liquidation %.8f would trigger before stop loss %.8f", ErrLeverageTooHigh, liquidation, req.StopLoss)
	}
	if req.Side == order.SideShort && liquidation <= req.StopLoss {
		return nil, fmt.Errorf("%w: liquidation %.8f would trigger before stop loss %.8f", ErrLeverageTooHigh, liquidation, req.StopLoss)
	}

	p := &Position{
		ID:                      uuid.NewString(),
		Symbol:                  req.Symbol,
		Side:                    req.Side,
		Status:                  StatusOpen,
		EntryPrice:              fill.Price,
		EntryTime:               now,
		Quantity:                req.Quantity,
		QuantityRemaining:       req.Quantity,
		Leverage:                req.Leverage,
		MarginUsed:              fill.Price * req.Quantity / req.Leverage,
		StopLoss:                req.StopLoss,
		TakeProfit1:             req.TakeProfit1,
		TakeProfit2:             req.TakeProfit2,
		TakeProfit3:             req.TakeProfit3,
		TrailingDistancePercent: m.cfg.TrailingStopPercent,
		LiquidationPrice:        liquidation,
		LastFundingTime:         now,
		FeesPaid:                fill.Fee,
		Signal:                  req.Signal,
	}
	p.markPrice(fill.Price)
	return p, nil
}

// liquidationPrice derives the forced-close price from entry, leverage, and
// direction, padded by the taker fee so the simulated exchange keeps its cut.
func (m *Manager) liquidationPrice(side order.Side, entry, leverage float64) float64 {
	feeAdj := m.execCfg.TakerFeePercent / 100
	if side == order.SideShort {
		return entry * (1 + 1/leverage - feeAdj)
	}
	return entry * (1 - 1/leverage + feeAdj)
}

// EvaluateTick applies one price update to an open position. Trigger
// conditions are checked in fixed precedence order -- liquidation, then
// stop-loss/trailing-stop, then take-profit levels -- and the first match
// fires exactly one close action.
func (m *Manager) EvaluateTick(p *Position, price float64, now time.Time) (Outcome, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return Outcome{}, fmt.Errorf("%w: price %.8f for %s", market.ErrBadTick, price, p.Symbol)
	}
	if p.Status != StatusOpen {
		return Outcome{}, nil
	}

	p.markPrice(price)
	m.updateTrailingStop(p, price)

	// 1. Liquidation
	if m.liquidationHit(p, price) {
		o, err := m.fullClose(p, order.ExitLiquidation, p.LiquidationPrice, now)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Closed: &o}, nil
	}

	// 2. Trailing stop (when active) or stop loss
	if p.TrailingActive {
		if !p.favorable(price, p.TrailingStopPrice) || price == p.TrailingStopPrice {
			o, err := m.fullClose(p, order.ExitTrailingSL, p.TrailingStopPrice, now)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Closed: &o}, nil
		}
	} else if !p.favorable(price, p.StopLoss) || price == p.StopLoss {
		o, err := m.fullClose(p, order.ExitStopLoss, p.StopLoss, now)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Closed: &o}, nil
	}

	// 3. Take-profit levels, tp1 before tp2 before tp3. Only the first
	// unhit level fires even if the price gapped past several at once.
	if !p.TP1Hit && p.favorable(price, p.TakeProfit1) {
		return m.takeProfit(p, order.ExitTP1, p.TakeProfit1, m.cfg.TP1ClosePercent, price, now)
	}
	if p.TP1Hit && !p.TP2Hit && p.TakeProfit2 != nil && p.favorable(price, *p.TakeProfit2) {
		return m.takeProfit(p, order.ExitTP2, *p.TakeProfit2, m.cfg.TP2ClosePercent, price, now)
	}
	if p.TP1Hit && p.TP2Hit && p.TakeProfit3 != nil && p.favorable(price, *p.TakeProfit3) {
		o, err := m.fullClose(p, order.ExitTP3, *p.TakeProfit3, now)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Closed: &o}, nil
	}

	return Outcome{}, nil
}

// Close fully closes the remaining quantity at the given price. Used for
// manual closes; tick-triggered exits go through EvaluateTick.
func (m *Manager) Close(p *Position, price float64, reason order.ExitReason, now time.Time) (order.Order, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return order.Order{}, fmt.Errorf("%w: price %.8f", execution.ErrInvalidOrderParams, price)
	}
	return m.fullClose(p, reason, price, now)
}

// AccrueFunding charges funding on the position's open notional for every
// whole funding interval elapsed since the last accrual. The cost accumulates
// on the position and settles against net P&L at close.
func (m *Manager) AccrueFunding(p *Position, now time.Time) {
	if m.cfg.FundingInterval <= 0 || m.cfg.FundingRatePercent == 0 || p.Status != StatusOpen {
		return
	}
	mark := p.CurrentPrice
	if mark <= 0 {
		mark = p.EntryPrice
	}
	for now.Sub(p.LastFundingTime) >= m.cfg.FundingInterval {
		p.FundingPaid += mark * p.QuantityRemaining * m.cfg.FundingRatePercent / 100
		p.LastFundingTime = p.LastFundingTime.Add(m.cfg.FundingInterval)
	}
}

// updateTrailingStop advances the high-water mark and tightens the trailing
// stop. The stop only ever moves in the position's favor and never loosens
// below the original stop loss.
func (m *Manager) updateTrailingStop(p *Position, price float64) {
	if !p.TrailingActive {
		return
	}
	if p.favorable(price, p.HighWaterMark) {
		p.HighWaterMark = price
	}
	candidate := p.HighWaterMark * (1 - p.TrailingDistancePercent/100)
	if p.Side == order.SideShort {
		candidate = p.HighWaterMark * (1 + p.TrailingDistancePercent/100)
	}
	if p.favorable(candidate, p.TrailingStopPrice) {
		p.TrailingStopPrice = candidate
	}
}

func (m *Manager) liquidationHit(p *Position, price float64) bool {
	if p.Side == order.SideShort {
		return price >= p.LiquidationPrice
	}
	return price <= p.LiquidationPrice
}

// takeProfit executes a TP hit: a partial close when the configured fraction
// leaves quantity behind, otherwise a full close at the level price.
func (m *Manager) takeProfit(p *Position, reason order.ExitReason, level, closePercent, tickPrice float64, now time.Time) (Outcome, error) {
	closeQty := p.Quantity * closePercent / 100
	if closeQty >= p.QuantityRemaining-qtyEpsilon {
		o, err := m.fullClose(p, reason, level, now)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Closed: &o}, nil
	}

	fill, err := m.sim.FillExit(p.Side, level, closeQty)
	if err != nil {
		return Outcome{}, err
	}

	gross := p.direction() * (fill.Price - p.EntryPrice) * closeQty
	net := gross - fill.Fee
	released := p.MarginUsed * closeQty / p.QuantityRemaining

	firstHit := !p.TP1Hit && !p.TP2Hit
	p.QuantityRemaining -= closeQty
	p.MarginUsed -= released
	p.RealizedPnl += net
	p.FeesPaid += fill.Fee
	switch reason {
	case order.ExitTP1:
		p.TP1Hit = true
	case order.ExitTP2:
		p.TP2Hit = true
	}

	pc := &PartialClose{
		Reason:         reason,
		Quantity:       closeQty,
		FillPrice:      fill.Price,
		Fee:            fill.Fee,
		NetPnl:         net,
		MarginReleased: released,
	}

	// Promote to trailing-stop mode on the first TP hit.
	if firstHit && m.cfg.TrailingStopEnabled && !p.TrailingActive {
		p.TrailingActive = true
		p.HighWaterMark = tickPrice
		stop := p.HighWaterMark * (1 - p.TrailingDistancePercent/100)
		if p.Side == order.SideShort {
			stop = p.HighWaterMark * (1 + p.TrailingDistancePercent/100)
		}
		if !p.favorable(stop, p.StopLoss) {
			stop = p.StopLoss
		}
		p.TrailingStopPrice = stop
		pc.TrailingActivated = true
		log.Printf("Position | [%s] Trailing stop activated after %s: hwm=%.8f stop=%.8f", p.Symbol, reason, p.HighWaterMark, p.TrailingStopPrice)
	}

	p.markPrice(tickPrice)
	return Outcome{Partial: pc}, nil
}

// fullClose closes all remaining quantity at the trigger price and builds the
// immutable order record. Terminal: the position cannot be reopened.
func (m *Manager) fullClose(p *Position, reason order.ExitReason, triggerPrice float64, now time.Time) (order.Order, error) {
	fill, err := m.sim.FillExit(p.Side, triggerPrice, p.QuantityRemaining)
	if err != nil {
		return order.Order{}, err
	}

	gross := p.direction() * (fill.Price - p.EntryPrice) * p.QuantityRemaining
	net := gross - fill.Fee - p.FundingPaid
	totalFees := p.FeesPaid + fill.Fee

	o := order.Order{
		ID:             uuid.NewString(),
		PositionID:     p.ID,
		Symbol:         p.Symbol,
		Side:           p.Side,
		EntryPrice:     p.EntryPrice,
		EntryTime:      p.EntryTime,
		ExitPrice:      fill.Price,
		ExitTime:       now,
		Quantity:       p.Quantity,
		QuantityClosed: p.QuantityRemaining,
		Leverage:       p.Leverage,
		MarginUsed:     p.MarginUsed,
		StopLoss:       p.StopLoss,
		GrossPnl:       gross,
		Fees:           totalFees,
		Funding:        p.FundingPaid,
		NetPnl:         net,
		PartialPnl:     p.RealizedPnl,
		ExitReason:     reason,
		Duration:       now.Sub(p.EntryTime),
		Signal:         p.Signal,
	}
	if im := p.initialMargin(); im > 0 {
		o.PnlPercent = (net + p.RealizedPnl) / im * 100
	}

	p.Status = StatusClosed
	p.QuantityRemaining = 0
	p.MarginUsed = 0
	p.FeesPaid = totalFees
	p.CurrentPrice = fill.Price
	p.UnrealizedPnl = 0
	p.UnrealizedPnlPercent = 0
	return o, nil
}

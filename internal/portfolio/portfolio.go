// Package portfolio
package portfolio

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/paper-trader/internal/config"
	"github.com/amirphl/paper-trader/internal/execution"
	"github.com/amirphl/paper-trader/internal/market"
	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/position"
)

var (
	// ErrInsufficientMargin is returned when the free balance cannot cover a
	// new position's margin plus its entry fee.
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrMaxPositionsExceeded is returned when the open-position cap is hit.
	ErrMaxPositionsExceeded = errors.New("max open positions exceeded")

	// ErrPositionNotFound is returned for close requests naming an unknown id.
	ErrPositionNotFound = errors.New("position not found")
)

// Trading modes. Manual mode only opens positions on explicit requests;
// automatic mode lets the engine open from qualifying signal candidates.
const (
	ModeManual    = "manual"
	ModeAutomatic = "automatic"
)

// EquitySample is one point on the equity curve.
type EquitySample struct {
	Time          time.Time `json:"time"`
	Equity        float64   `json:"equity"`
	Balance       float64   `json:"balance"`
	OpenPositions int       `json:"open_positions"`
}

// State is a deep-copied snapshot of the portfolio, safe to read and
// serialize outside the lock.
type State struct {
	Mode           string              `json:"mode"`
	Currency       string              `json:"currency"`
	InitialBalance float64             `json:"initial_balance"`
	Balance        float64             `json:"balance"`
	Equity         float64             `json:"equity"`
	MarginInUse    float64             `json:"margin_in_use"`
	UnrealizedPnl  float64             `json:"unrealized_pnl"`
	StartTime      time.Time           `json:"start_time"`
	LastUpdated    time.Time           `json:"last_updated"`
	OpenPositions  []position.Position `json:"open_positions"`
	History        []order.Order       `json:"history"`
	EquityCurve    []EquitySample      `json:"equity_curve"`
}

// Portfolio aggregates all simulated positions over a shared paper balance.
// A single mutex serializes every mutation; tick processing, opens, and
// closes all run under it, so position state never needs its own locking.
type Portfolio struct {
	mu sync.Mutex

	cfg     config.Config
	manager *position.Manager

	mode           string
	balance        float64
	initialBalance float64
	startTime      time.Time
	lastUpdated    time.Time

	open       map[string]*position.Position
	history    []order.Order
	curve      []EquitySample
	lastSample time.Time
	lastPrice  map[string]float64
}

// New creates a portfolio funded with the configured initial balance.
func New(cfg config.Config, now time.Time) *Portfolio {
	sim := execution.NewSimulator(cfg.Execution)
	p := &Portfolio{
		cfg:            cfg,
		manager:        position.NewManager(sim, cfg.Trading, cfg.Execution),
		mode:           cfg.Mode,
		balance:        cfg.InitialBalance,
		initialBalance: cfg.InitialBalance,
		startTime:      now,
		lastUpdated:    now,
		open:           make(map[string]*position.Position),
		lastPrice:      make(map[string]float64),
	}
	p.sampleEquity(now, true)
	return p
}

// SetMode switches between manual and automatic trading.
func (pf *Portfolio) SetMode(mode string) error {
	if mode != ModeManual && mode != ModeAutomatic {
		return fmt.Errorf("unsupported mode: %s", mode)
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.mode = mode
	pf.lastUpdated = time.Now()
	return nil
}

// Open validates the request against portfolio-level limits, opens the
// position, and charges the entry fee to the balance. The returned position
// is a copy.
func (pf *Portfolio) Open(req order.OpenRequest, now time.Time) (position.Position, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if pf.cfg.Trading.MaxOpenPositions > 0 && len(pf.open) >= pf.cfg.Trading.MaxOpenPositions {
		return position.Position{}, fmt.Errorf("%w: %d already open", ErrMaxPositionsExceeded, len(pf.open))
	}

	p, err := pf.manager.Open(req, now)
	if err != nil {
		return position.Position{}, err
	}

	free := pf.balance - pf.marginInUse()
	if p.MarginUsed+p.FeesPaid > free {
		return position.Position{}, fmt.Errorf("%w: need %.2f margin plus %.2f fee, %.2f free",
			ErrInsufficientMargin, p.MarginUsed, p.FeesPaid, free)
	}

	pf.balance -= p.FeesPaid
	pf.open[p.ID] = p
	pf.lastUpdated = now
	log.Printf("Portfolio | [%s] Opened %s %.8f @ %.8f lev=%.1fx margin=%.2f id=%s",
		p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.Leverage, p.MarginUsed, p.ID)
	pf.sampleEquity(now, false)
	return clonePosition(p), nil
}

// ApplyTick feeds one price update through every open position on the tick's
// symbol and returns the orders for any positions it fully closed. An invalid
// tick is rejected before any state changes.
func (pf *Portfolio) ApplyTick(tick market.Tick) ([]order.Order, error) {
	if err := tick.Validate(); err != nil {
		return nil, err
	}
	if pf.cfg.MaxTickAge > 0 && tick.Stale(time.Now(), pf.cfg.MaxTickAge) {
		log.Printf("Portfolio | [%s] Dropping stale tick from %s", tick.Symbol, tick.Timestamp.Format(time.RFC3339))
		return nil, nil
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	pf.lastPrice[tick.Symbol] = tick.Price
	now := tick.Timestamp
	pf.lastUpdated = now

	var closed []order.Order
	for _, p := range pf.openBySymbol(tick.Symbol) {
		pf.manager.AccrueFunding(p, now)
		out, err := pf.manager.EvaluateTick(p, tick.Price, now)
		if err != nil {
			return closed, err
		}
		if out.Partial != nil {
			pf.balance += out.Partial.NetPnl
			log.Printf("Portfolio | [%s] Partial close %s %.8f @ %.8f pnl=%.4f remaining=%.8f",
				p.Symbol, out.Partial.Reason, out.Partial.Quantity, out.Partial.FillPrice, out.Partial.NetPnl, p.QuantityRemaining)
		}
		if out.Closed != nil {
			pf.settleClose(p, *out.Closed)
			closed = append(closed, *out.Closed)
		}
	}

	pf.sampleEquity(now, len(closed) > 0)
	return closed, nil
}

// Close fully closes the identified position at the last seen price. Only
// ids in the open set can be closed: an already-closed or unknown id returns
// ErrPositionNotFound, and the first close's state is never touched again.
func (pf *Portfolio) Close(id string, reason order.ExitReason, now time.Time) (order.Order, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	p, ok := pf.open[id]
	if !ok {
		return order.Order{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}

	price := pf.lastPrice[p.Symbol]
	if price <= 0 {
		price = p.CurrentPrice
	}
	if price <= 0 {
		price = p.EntryPrice
	}

	pf.manager.AccrueFunding(p, now)
	o, err := pf.manager.Close(p, price, reason, now)
	if err != nil {
		return order.Order{}, err
	}
	pf.settleClose(p, o)
	pf.lastUpdated = now
	pf.sampleEquity(now, true)
	return o, nil
}

// Reset restores the portfolio to its initial state, discarding all open
// positions, history, and the equity curve.
func (pf *Portfolio) Reset(now time.Time) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	pf.balance = pf.initialBalance
	pf.startTime = now
	pf.lastUpdated = now
	pf.open = make(map[string]*position.Position)
	pf.history = nil
	pf.curve = nil
	pf.lastSample = time.Time{}
	pf.lastPrice = make(map[string]float64)
	log.Printf("Portfolio | Reset to initial balance %.2f", pf.initialBalance)
	pf.sampleEquity(now, true)
}

// Snapshot returns a deep copy of the full portfolio state.
func (pf *Portfolio) Snapshot() State {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	st := State{
		Mode:           pf.mode,
		Currency:       pf.cfg.Currency,
		InitialBalance: pf.initialBalance,
		Balance:        pf.balance,
		Equity:         pf.equity(),
		MarginInUse:    pf.marginInUse(),
		UnrealizedPnl:  pf.unrealized(),
		StartTime:      pf.startTime,
		LastUpdated:    pf.lastUpdated,
		OpenPositions:  make([]position.Position, 0, len(pf.open)),
		History:        append([]order.Order(nil), pf.history...),
		EquityCurve:    append([]EquitySample(nil), pf.curve...),
	}
	for _, p := range pf.sortedOpen() {
		st.OpenPositions = append(st.OpenPositions, clonePosition(p))
	}
	return st
}

// settleClose books a full close: realized P&L into the balance, the order
// into history, the position out of the open set. Caller holds the lock.
func (pf *Portfolio) settleClose(p *position.Position, o order.Order) {
	pf.balance += o.NetPnl
	pf.history = append(pf.history, o)
	delete(pf.open, p.ID)
	log.Printf("Portfolio | [%s] Closed %s reason=%s net=%.4f total=%.4f balance=%.2f",
		o.Symbol, o.Side, o.ExitReason, o.NetPnl, o.TotalPnl(), pf.balance)
}

// sampleEquity appends an equity curve point, throttled to the configured
// interval. Forced samples (position closes, resets) always record.
func (pf *Portfolio) sampleEquity(now time.Time, force bool) {
	if !force && !pf.lastSample.IsZero() && now.Sub(pf.lastSample) < pf.cfg.EquitySampleInterval {
		return
	}
	pf.curve = append(pf.curve, EquitySample{
		Time:          now,
		Equity:        pf.equity(),
		Balance:       pf.balance,
		OpenPositions: len(pf.open),
	})
	pf.lastSample = now
}

func (pf *Portfolio) equity() float64 {
	return pf.balance + pf.unrealized()
}

func (pf *Portfolio) unrealized() float64 {
	var sum float64
	for _, p := range pf.open {
		sum += p.UnrealizedPnl
	}
	return sum
}

func (pf *Portfolio) marginInUse() float64 {
	var sum float64
	for _, p := range pf.open {
		sum += p.MarginUsed
	}
	return sum
}

// openBySymbol returns the symbol's open positions ordered by entry time so
// tick processing is deterministic.
func (pf *Portfolio) openBySymbol(symbol string) []*position.Position {
	var out []*position.Position
	for _, p := range pf.open {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

func (pf *Portfolio) sortedOpen() []*position.Position {
	out := make([]*position.Position, 0, len(pf.open))
	for _, p := range pf.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// clonePosition copies a position including its optional TP pointers so the
// caller can never reach back into locked state.
func clonePosition(p *position.Position) position.Position {
	c := *p
	if p.TakeProfit2 != nil {
		v := *p.TakeProfit2
		c.TakeProfit2 = &v
	}
	if p.TakeProfit3 != nil {
		v := *p.TakeProfit3
		c.TakeProfit3 = &v
	}
	if p.Signal.Indicators != nil {
		c.Signal.Indicators = append([]string(nil), p.Signal.Indicators...)
	}
	return c
}

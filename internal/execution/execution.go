// Package execution
package execution

import (
	"errors"
	"fmt"
	"math"

	"github.com/amirphl/paper-trader/internal/config"
	"github.com/amirphl/paper-trader/internal/order"
)

// ErrInvalidOrderParams marks fill requests with non-positive or non-finite
// price or quantity.
var ErrInvalidOrderParams = errors.New("invalid order parameters")

// Fill is the result of a simulated execution.
type Fill struct {
	Price    float64 // fill price after spread and slippage
	Fee      float64 // fee on notional value
	Notional float64 // Price * quantity
}

// Simulator converts requested prices into filled prices and fees. It is a
// pure function of its configuration: no side effects, no state.
type Simulator struct {
	cfg config.ExecutionConfig
}

func NewSimulator(cfg config.ExecutionConfig) Simulator {
	return Simulator{cfg: cfg}
}

// FillEntry simulates opening a position at the requested price. The fill is
// adjusted against the trader by half the spread plus slippage: a long entry
// fills above the requested price, a short entry below it.
func (s Simulator) FillEntry(side order.Side, price, quantity float64) (Fill, error) {
	if err := validateParams(price, quantity); err != nil {
		return Fill{}, err
	}
	adj := s.adversePercent() / 100
	fillPrice := price * (1 + adj)
	if side == order.SideShort {
		fillPrice = price * (1 - adj)
	}
	return s.fill(fillPrice, quantity), nil
}

// FillExit simulates closing a position at the requested price. The
// adjustment is again unfavorable: a long exit (sell) fills below the
// requested price, a short exit (buy) above it.
func (s Simulator) FillExit(side order.Side, price, quantity float64) (Fill, error) {
	if err := validateParams(price, quantity); err != nil {
		return Fill{}, err
	}
	adj := s.adversePercent() / 100
	fillPrice := price * (1 - adj)
	if side == order.SideShort {
		fillPrice = price * (1 + adj)
	}
	return s.fill(fillPrice, quantity), nil
}

// adversePercent is the total unfavorable price adjustment: half the spread
// plus slippage.
func (s Simulator) adversePercent() float64 {
	return s.cfg.SpreadPercent/2 + s.cfg.SlippagePercent
}

func (s Simulator) fill(fillPrice, quantity float64) Fill {
	notional := fillPrice * quantity
	return Fill{
		Price:    fillPrice,
		Fee:      notional * s.cfg.FeePercent() / 100,
		Notional: notional,
	}
}

func validateParams(price, quantity float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("%w: price %.8f", ErrInvalidOrderParams, price)
	}
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity <= 0 {
		return fmt.Errorf("%w: quantity %.8f", ErrInvalidOrderParams, quantity)
	}
	return nil
}

// Package market
package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrBadTick marks a tick that failed data-quality validation. A bad tick is
// skipped without mutating any portfolio state.
var ErrBadTick = errors.New("bad tick")

// Tick represents a trade tick.
type Tick struct {
	Symbol    string
	Price     float64
	Quantity  float64
	Side      string // "buy" or "sell"
	Timestamp time.Time
}

// Validate rejects non-finite or non-positive prices. Silently coercing a NaN
// price to zero would corrupt the equity invariant, so bad values are refused
// up front.
func (t Tick) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrBadTick)
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return fmt.Errorf("%w: non-finite price for %s", ErrBadTick, t.Symbol)
	}
	if t.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %.8f for %s", ErrBadTick, t.Price, t.Symbol)
	}
	return nil
}

// Stale reports whether the tick is older than maxAge relative to now.
// A zero maxAge disables the check.
func (t Tick) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 || t.Timestamp.IsZero() {
		return false
	}
	return now.Sub(t.Timestamp) > maxAge
}

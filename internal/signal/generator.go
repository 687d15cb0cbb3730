package signal

import "github.com/amirphl/paper-trader/internal/market"

// Generator turns the raw tick stream into trade candidates. Implementations
// keep their own per-symbol state; OnTick is called from a single goroutine.
type Generator interface {
	OnTick(t market.Tick) []Candidate
}

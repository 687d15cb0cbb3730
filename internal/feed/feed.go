// Package feed
package feed

import (
	"context"
	"strings"

	"github.com/amirphl/paper-trader/internal/market"
)

// Source streams trade ticks for a set of symbols. Implementations own their
// reconnect logic; the tick channel stays open until Close.
type Source interface {
	Start(ctx context.Context) error
	Ticks() <-chan market.Tick
	IsConnected() bool
	Health() error
	Close()
}

// NormalizeSymbol converts e.g. btc-usdt to BTCUSDT.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

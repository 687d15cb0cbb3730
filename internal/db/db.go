// Package db
package db

import (
	"context"
	"time"

	"github.com/amirphl/paper-trader/internal/backtest"
	"github.com/amirphl/paper-trader/internal/journal"
	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/portfolio"
)

// Storage is the interface for all persistent storage.
type Storage interface {
	SaveOrder(ctx context.Context, o order.Order) error
	GetOrders(ctx context.Context, symbol string, start, end time.Time) ([]order.Order, error)

	SaveEquitySample(ctx context.Context, s portfolio.EquitySample) error
	GetEquitySamples(ctx context.Context, start, end time.Time) ([]portfolio.EquitySample, error)

	SaveBaseline(ctx context.Context, b backtest.Baseline) error
	GetLatestBaseline(ctx context.Context) (*backtest.Baseline, error)

	journal.Journaler

	Close() error
}

package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/paper-trader/internal/backtest"
	"github.com/amirphl/paper-trader/internal/journal"
	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/portfolio"
)

// MemoryStorage keeps everything in process. Used when no database is
// configured and in tests.
type MemoryStorage struct {
	mu sync.RWMutex

	// Orders by order ID
	orders map[string]order.Order

	// Equity samples and events (append-only)
	samples []portfolio.EquitySample
	events  []journal.Event

	baselines []backtest.Baseline
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		orders: make(map[string]order.Order),
		events: make([]journal.Event, 0, 1024),
	}
}

func (m *MemoryStorage) SaveOrder(ctx context.Context, o order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStorage) GetOrders(ctx context.Context, symbol string, start, end time.Time) ([]order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []order.Order
	for _, o := range m.orders {
		if symbol != "" && !strings.EqualFold(o.Symbol, symbol) {
			continue
		}
		ts := o.ExitTime.UTC()
		if (ts.Equal(start) || ts.After(start)) && ts.Before(end) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExitTime.Before(out[j].ExitTime) })
	return out, nil
}

func (m *MemoryStorage) SaveEquitySample(ctx context.Context, s portfolio.EquitySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Time = s.Time.UTC()
	m.samples = append(m.samples, s)
	return nil
}

func (m *MemoryStorage) GetEquitySamples(ctx context.Context, start, end time.Time) ([]portfolio.EquitySample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []portfolio.EquitySample
	for _, s := range m.samples {
		if (s.Time.Equal(start) || s.Time.After(start)) && s.Time.Before(end) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *MemoryStorage) SaveBaseline(ctx context.Context, b backtest.Baseline) error {
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines = append(m.baselines, b)
	return nil
}

func (m *MemoryStorage) GetLatestBaseline(ctx context.Context) (*backtest.Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *backtest.Baseline
	for i := range m.baselines {
		b := m.baselines[i]
		if latest == nil || b.Timestamp.After(latest.Timestamp) {
			bb := b
			latest = &bb
		}
	}
	return latest, nil
}

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []journal.Event
	for _, e := range m.events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if (e.Time.Equal(start) || e.Time.After(start)) && e.Time.Before(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *MemoryStorage) Close() error { return nil }

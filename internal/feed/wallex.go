package feed

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	wallex "github.com/wallexchange/wallex-go"

	"github.com/amirphl/paper-trader/internal/market"
)

const defaultWallexPollInterval = 2 * time.Second

// WallexSource polls the Wallex REST API for the latest market trades. Wallex
// has no public trade websocket suitable for this, so each symbol is polled
// on a fixed interval and only trades newer than the last seen one are
// emitted.
type WallexSource struct {
	client       *wallex.Client
	symbols      []string
	pollInterval time.Duration
	ticks        chan market.Tick
	cancel       context.CancelFunc

	mu        sync.RWMutex
	lastSeen  map[string]time.Time
	healthErr error
	running   bool
	closed    bool
}

func NewWallexSource(apiKey string, symbols []string, pollInterval time.Duration) *WallexSource {
	if pollInterval <= 0 {
		pollInterval = defaultWallexPollInterval
	}
	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = NormalizeSymbol(s)
	}
	return &WallexSource{
		client:       wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		symbols:      normalized,
		pollInterval: pollInterval,
		ticks:        make(chan market.Tick, 256),
		lastSeen:     make(map[string]time.Time),
	}
}

func (w *WallexSource) Ticks() <-chan market.Tick { return w.ticks }

func (w *WallexSource) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running && w.healthErr == nil
}

func (w *WallexSource) Health() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.healthErr
}

func (w *WallexSource) Start(ctx context.Context) error {
	if len(w.symbols) == 0 {
		return fmt.Errorf("no symbols to poll")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	go func() {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.mu.Lock()
				w.running = false
				w.mu.Unlock()
				return
			case <-ticker.C:
				for _, symbol := range w.symbols {
					w.poll(symbol)
				}
			}
		}
	}()
	return nil
}

// poll fetches the latest trades for one symbol and emits the unseen ones,
// oldest first.
func (w *WallexSource) poll(symbol string) {
	trades, err := w.client.MarketTrades(symbol)
	if err != nil {
		w.mu.Lock()
		w.healthErr = err
		w.mu.Unlock()
		log.Printf("WallexFeed | [%s] Poll failed: %v", symbol, err)
		return
	}
	w.mu.Lock()
	w.healthErr = nil
	last := w.lastSeen[symbol]
	w.mu.Unlock()

	// Trades arrive newest first.
	newest := last
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		ts := t.Timestamp.UTC()
		if !ts.After(last) {
			continue
		}
		price, err := strconv.ParseFloat(string(t.Price), 64)
		if err != nil {
			continue
		}
		quantity, _ := strconv.ParseFloat(string(t.Quantity), 64)
		tick := market.Tick{
			Symbol:    symbol,
			Price:     price,
			Quantity:  quantity,
			Side:      "", // REST trades carry no aggressor side
			Timestamp: ts,
		}
		select {
		case w.ticks <- tick:
		default:
		}
		if ts.After(newest) {
			newest = ts
		}
	}

	w.mu.Lock()
	w.lastSeen[symbol] = newest
	w.mu.Unlock()
}

func (w *WallexSource) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.cancel != nil {
		w.cancel()
	}
	log.Printf("WallexFeed | Closed")
}

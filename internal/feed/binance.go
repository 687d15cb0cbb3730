package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amirphl/paper-trader/internal/market"
)

// ConnectionState represents the state of the websocket connection
// (for health checks and monitoring)
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

// binanceTrade is one message from the combined trade stream.
// e.g. {"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"...","q":"...","T":...,"m":true}}
type binanceTrade struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		Quantity  string `json:"q"`
		TradeTime int64  `json:"T"` // milliseconds
		BuyerIsMM bool   `json:"m"` // buyer is market maker => aggressor sold
	} `json:"data"`
}

// BinanceSource streams trades for multiple symbols over one combined
// websocket connection, reconnecting with exponential backoff.
type BinanceSource struct {
	symbols []string
	ticks   chan market.Tick
	cancel  context.CancelFunc

	mu        sync.RWMutex
	conn      *websocket.Conn
	state     ConnectionState
	healthErr error
	closed    bool
}

func NewBinanceSource(symbols []string) *BinanceSource {
	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = NormalizeSymbol(s)
	}
	return &BinanceSource{
		symbols: normalized,
		ticks:   make(chan market.Tick, 1024),
		state:   Disconnected,
	}
}

func (b *BinanceSource) Ticks() <-chan market.Tick { return b.ticks }

func (b *BinanceSource) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == Connected && b.conn != nil
}

func (b *BinanceSource) Health() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthErr
}

// Start connects and streams until the context is cancelled or Close is
// called, reconnecting on errors.
func (b *BinanceSource) Start(ctx context.Context) error {
	if len(b.symbols) == 0 {
		return fmt.Errorf("no symbols to stream")
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	go func() {
		retryDelay := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := b.connectAndStream(ctx); err != nil {
					b.mu.Lock()
					b.state = Reconnecting
					b.healthErr = err
					closed := b.closed
					b.mu.Unlock()
					if closed || ctx.Err() != nil {
						return
					}
					log.Printf("BinanceFeed | Disconnected, retrying in %v: %v", retryDelay, err)
					time.Sleep(retryDelay)
					if retryDelay < 60*time.Second {
						retryDelay *= 2
					} else {
						retryDelay = 60 * time.Second
					}
					continue
				}
				return
			}
		}
	}()
	return nil
}

// connectAndStream handles a single websocket connection session.
func (b *BinanceSource) connectAndStream(ctx context.Context) error {
	b.mu.Lock()
	b.state = Connecting
	b.healthErr = nil
	b.mu.Unlock()

	streams := make([]string, len(b.symbols))
	for i, s := range b.symbols {
		streams[i] = strings.ToLower(s) + "@trade"
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     "stream.binance.com:9443",
		Path:     "/stream",
		RawQuery: "streams=" + strings.Join(streams, "/"),
	}

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.conn = c
	b.state = Connected
	b.mu.Unlock()

	log.Printf("BinanceFeed | Connection established for %s", strings.Join(b.symbols, ","))
	defer func() {
		c.Close()
		b.mu.Lock()
		b.conn = nil
		b.state = Disconnected
		b.mu.Unlock()
	}()

	// Binance pings every few minutes; gorilla answers with a pong as long
	// as the read loop keeps running.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			c.SetReadDeadline(time.Now().Add(3 * time.Minute))
			_, message, err := c.ReadMessage()
			if err != nil {
				return err
			}

			var msg binanceTrade
			if err := json.Unmarshal(message, &msg); err != nil {
				continue
			}
			if msg.Data.EventType != "trade" {
				continue
			}
			price, err := strconv.ParseFloat(msg.Data.Price, 64)
			if err != nil {
				continue
			}
			quantity, _ := strconv.ParseFloat(msg.Data.Quantity, 64)

			side := "buy"
			if msg.Data.BuyerIsMM {
				side = "sell"
			}
			tick := market.Tick{
				Symbol:    msg.Data.Symbol,
				Price:     price,
				Quantity:  quantity,
				Side:      side,
				Timestamp: time.UnixMilli(msg.Data.TradeTime).UTC(),
			}

			select {
			case b.ticks <- tick:
			default:
				// Consumer is behind; drop rather than block the read loop.
			}
		}
	}
}

func (b *BinanceSource) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	log.Printf("BinanceFeed | Closed for %s", strings.Join(b.symbols, ","))
}

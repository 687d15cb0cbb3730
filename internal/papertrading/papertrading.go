// Package papertrading
package papertrading

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/paper-trader/internal/backtest"
	"github.com/amirphl/paper-trader/internal/config"
	"github.com/amirphl/paper-trader/internal/db"
	"github.com/amirphl/paper-trader/internal/feed"
	"github.com/amirphl/paper-trader/internal/journal"
	"github.com/amirphl/paper-trader/internal/market"
	"github.com/amirphl/paper-trader/internal/metrics"
	"github.com/amirphl/paper-trader/internal/notifier"
	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/portfolio"
	"github.com/amirphl/paper-trader/internal/position"
	"github.com/amirphl/paper-trader/internal/readiness"
	"github.com/amirphl/paper-trader/internal/signal"
)

// statusInterval is how often the engine logs metrics and re-evaluates
// readiness.
const statusInterval = time.Minute

// Engine runs the paper trading loop: ticks in, simulated fills and closed
// orders out, with metrics and readiness evaluated on a fixed cadence.
// All portfolio mutation happens on the Run goroutine; persistence and
// notifications run on snapshots and returned values, never under the
// portfolio lock.
type Engine struct {
	cfg      config.Config
	pf       *portfolio.Portfolio
	storage  db.Storage
	source   feed.Source
	notifier notifier.Notifier
	baseline *backtest.Baseline

	signals     chan signal.Candidate
	gen         signal.Generator
	lastVerdict readiness.Verdict
}

func New(cfg config.Config, pf *portfolio.Portfolio, storage db.Storage, source feed.Source, n notifier.Notifier, baseline *backtest.Baseline) *Engine {
	return &Engine{
		cfg:      cfg,
		pf:       pf,
		storage:  storage,
		source:   source,
		notifier: n,
		baseline: baseline,
		signals:  make(chan signal.Candidate, 64),
	}
}

// Signals is where external signal generators push trade candidates. In
// automatic mode qualifying candidates open positions; in manual mode they
// are logged and dropped.
func (e *Engine) Signals() chan<- signal.Candidate { return e.signals }

// SetGenerator attaches an in-process signal generator that is fed every
// accepted tick. Must be called before Run.
func (e *Engine) SetGenerator(g signal.Generator) { e.gen = g }

// Run processes ticks and signals until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start feed: %w", err)
	}
	defer e.source.Close()

	log.Printf("Engine | Started mode=%s symbols=%v balance=%.2f %s",
		e.cfg.Mode, e.cfg.Symbols, e.cfg.InitialBalance, e.cfg.Currency)

	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Engine | Stopping")
			return nil
		case tick := <-e.source.Ticks():
			e.handleTick(ctx, tick)
		case cand := <-e.signals:
			e.handleSignal(ctx, cand)
		case <-statusTicker.C:
			e.reportStatus(ctx)
		}
	}
}

func (e *Engine) handleTick(ctx context.Context, tick market.Tick) {
	closed, err := e.pf.ApplyTick(tick)
	if err != nil {
		log.Printf("Engine | [%s] Tick rejected: %v", tick.Symbol, err)
		e.logEvent(ctx, journal.Event{
			Time:        time.Now(),
			Type:        journal.EventFeedError,
			Symbol:      tick.Symbol,
			Description: err.Error(),
		})
		return
	}
	for _, o := range closed {
		e.persistClose(ctx, o)
	}

	if e.gen != nil {
		for _, cand := range e.gen.OnTick(tick) {
			e.handleSignal(ctx, cand)
		}
	}
}

func (e *Engine) handleSignal(ctx context.Context, cand signal.Candidate) {
	snapshot := e.pf.Snapshot()
	if snapshot.Mode != portfolio.ModeAutomatic {
		log.Printf("Engine | [%s] Ignoring signal in manual mode (score=%.1f)", cand.Symbol, cand.Score)
		return
	}
	if cand.Score < e.cfg.AutoTradeMinScore || cand.Confidence < e.cfg.AutoTradeMinConfidence {
		log.Printf("Engine | [%s] Signal below thresholds: score=%.1f confidence=%.2f", cand.Symbol, cand.Score, cand.Confidence)
		e.logEvent(ctx, journal.Event{
			Time:        time.Now(),
			Type:        journal.EventOrderRejected,
			Symbol:      cand.Symbol,
			Description: "signal below auto-trade thresholds",
			Data:        map[string]any{"score": cand.Score, "confidence": cand.Confidence},
		})
		return
	}

	if _, err := e.Open(ctx, cand.ToOpenRequest()); err != nil {
		log.Printf("Engine | [%s] Auto-open failed: %v", cand.Symbol, err)
	}
}

// Open opens a position and records the event. Used both by automatic mode
// and by manual open commands.
func (e *Engine) Open(ctx context.Context, req order.OpenRequest) (position.Position, error) {
	p, err := e.pf.Open(req, time.Now())
	if err != nil {
		e.logEvent(ctx, journal.Event{
			Time:        time.Now(),
			Type:        journal.EventOrderRejected,
			Symbol:      req.Symbol,
			Description: err.Error(),
		})
		return position.Position{}, err
	}

	e.logEvent(ctx, journal.Event{
		Time:        time.Now(),
		Type:        journal.EventPositionOpened,
		Symbol:      p.Symbol,
		Description: fmt.Sprintf("%s %.8f @ %.8f lev=%.1fx", p.Side, p.Quantity, p.EntryPrice, p.Leverage),
		Data:        map[string]any{"position_id": p.ID},
	})
	e.notify(fmt.Sprintf("Opened %s %s %.6f @ %.2f (%.1fx, margin %.2f %s)",
		p.Side, p.Symbol, p.Quantity, p.EntryPrice, p.Leverage, p.MarginUsed, e.cfg.Currency))
	return p, nil
}

// Close closes a position manually and records the event.
func (e *Engine) Close(ctx context.Context, id string, reason order.ExitReason) (order.Order, error) {
	o, err := e.pf.Close(id, reason, time.Now())
	if err != nil {
		return order.Order{}, err
	}
	e.persistClose(ctx, o)
	return o, nil
}

// Reset wipes the portfolio back to its initial state.
func (e *Engine) Reset(ctx context.Context) {
	e.pf.Reset(time.Now())
	e.lastVerdict = ""
	e.logEvent(ctx, journal.Event{
		Time:        time.Now(),
		Type:        journal.EventReset,
		Description: fmt.Sprintf("portfolio reset to %.2f %s", e.cfg.InitialBalance, e.cfg.Currency),
	})
	e.notify(fmt.Sprintf("Paper portfolio reset to %.2f %s", e.cfg.InitialBalance, e.cfg.Currency))
}

// SetMode switches trading mode and records the change.
func (e *Engine) SetMode(ctx context.Context, mode string) error {
	if err := e.pf.SetMode(mode); err != nil {
		return err
	}
	e.logEvent(ctx, journal.Event{
		Time:        time.Now(),
		Type:        journal.EventModeChanged,
		Description: "mode set to " + mode,
	})
	return nil
}

// persistClose saves a closed order, journals it, and notifies.
func (e *Engine) persistClose(ctx context.Context, o order.Order) {
	if err := e.storage.SaveOrder(ctx, o); err != nil {
		log.Printf("Engine | [%s] Failed to save order %s: %v", o.Symbol, o.ID, err)
	}
	e.logEvent(ctx, journal.Event{
		Time:        o.ExitTime,
		Type:        journal.EventPositionClosed,
		Symbol:      o.Symbol,
		Description: fmt.Sprintf("%s closed by %s, net %.4f", o.Side, o.ExitReason, o.TotalPnl()),
		Data:        map[string]any{"order_id": o.ID, "position_id": o.PositionID},
	})
	e.notify(fmt.Sprintf("Closed %s %s by %s: %.2f %s (%.2f%% on margin)",
		o.Side, o.Symbol, o.ExitReason, o.TotalPnl(), e.cfg.Currency, o.PnlPercent))
}

// reportStatus computes metrics, re-evaluates readiness, and persists the
// latest equity sample.
func (e *Engine) reportStatus(ctx context.Context) {
	now := time.Now()
	snapshot := e.pf.Snapshot()
	report := metrics.Compute(snapshot.History, snapshot.EquityCurve, snapshot.InitialBalance, now, e.cfg.EquitySampleInterval)

	log.Printf("Engine | Status: equity=%.2f balance=%.2f open=%d trades=%d winrate=%.1f%% pnl=%.2f dd=%.1f%%",
		snapshot.Equity, snapshot.Balance, len(snapshot.OpenPositions),
		report.TotalTrades, report.WinRate*100, report.TotalPnl, report.MaxDrawdownPercent)

	if len(snapshot.EquityCurve) > 0 {
		latest := snapshot.EquityCurve[len(snapshot.EquityCurve)-1]
		if err := e.storage.SaveEquitySample(ctx, latest); err != nil {
			log.Printf("Engine | Failed to save equity sample: %v", err)
		}
	}

	ev := readiness.Evaluate(report, snapshot.StartTime, now, e.baseline, e.cfg.Readiness)
	if ev.Verdict != e.lastVerdict {
		prev := e.lastVerdict
		e.lastVerdict = ev.Verdict
		log.Printf("Engine | Readiness: %s (%d/%d criteria)", ev.Verdict, ev.Passed, ev.Total)
		if prev != "" {
			e.logEvent(ctx, journal.Event{
				Time:        now,
				Type:        journal.EventReadinessTransition,
				Description: fmt.Sprintf("readiness %s -> %s (%d/%d)", prev, ev.Verdict, ev.Passed, ev.Total),
			})
			e.notify(fmt.Sprintf("Readiness changed: %s -> %s (%d/%d criteria passed)", prev, ev.Verdict, ev.Passed, ev.Total))
		}
	}
}

func (e *Engine) logEvent(ctx context.Context, event journal.Event) {
	if err := e.storage.LogEvent(ctx, event); err != nil {
		log.Printf("Engine | Failed to log event %s: %v", event.Type, err)
	}
}

func (e *Engine) notify(msg string) {
	go func() {
		if err := e.notifier.SendWithRetry(msg); err != nil {
			log.Printf("Engine | Notification failed: %v", err)
		}
	}()
}

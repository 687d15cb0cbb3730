package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/amirphl/paper-trader/internal/backtest"
	"github.com/amirphl/paper-trader/internal/journal"
	"github.com/amirphl/paper-trader/internal/order"
	"github.com/amirphl/paper-trader/internal/portfolio"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	position_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	entry_time TIMESTAMPTZ NOT NULL,
	exit_price DOUBLE PRECISION NOT NULL,
	exit_time TIMESTAMPTZ NOT NULL,
	quantity DOUBLE PRECISION NOT NULL,
	quantity_closed DOUBLE PRECISION NOT NULL,
	leverage DOUBLE PRECISION NOT NULL,
	margin_used DOUBLE PRECISION NOT NULL,
	stop_loss DOUBLE PRECISION NOT NULL,
	gross_pnl DOUBLE PRECISION NOT NULL,
	fees DOUBLE PRECISION NOT NULL,
	funding DOUBLE PRECISION NOT NULL,
	net_pnl DOUBLE PRECISION NOT NULL,
	partial_pnl DOUBLE PRECISION NOT NULL,
	pnl_percent DOUBLE PRECISION NOT NULL,
	exit_reason TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	signal JSONB
);
CREATE INDEX IF NOT EXISTS idx_orders_symbol_exit ON orders (symbol, exit_time);

CREATE TABLE IF NOT EXISTS equity_samples (
	time TIMESTAMPTZ NOT NULL,
	equity DOUBLE PRECISION NOT NULL,
	balance DOUBLE PRECISION NOT NULL,
	open_positions INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_equity_samples_time ON equity_samples (time);

CREATE TABLE IF NOT EXISTS events (
	time TIMESTAMPTZ NOT NULL,
	type TEXT NOT NULL,
	symbol TEXT,
	description TEXT NOT NULL,
	data JSONB
);
CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (type, time);

CREATE TABLE IF NOT EXISTS baselines (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	data JSONB NOT NULL
);
`

// Postgres persists engine state through lib/pq.
type Postgres struct {
	db *sql.DB
}

// Open connects, applies the schema, and configures the pool.
func Open(connStr string, maxOpen, maxIdle int) (*Postgres, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Postgres{db: sqlDB}, nil
}

func (p *Postgres) GetDB() *sql.DB { return p.db }

func (p *Postgres) Close() error { return p.db.Close() }

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Postgres) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Postgres) SaveOrder(ctx context.Context, o order.Order) error {
	signal, err := json.Marshal(o.Signal)
	if err != nil {
		return fmt.Errorf("failed to marshal order signal: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, position_id, symbol, side, entry_price, entry_time,
			exit_price, exit_time, quantity, quantity_closed, leverage, margin_used,
			stop_loss, gross_pnl, fees, funding, net_pnl, partial_pnl, pnl_percent,
			exit_reason, duration_ms, signal)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (id) DO NOTHING`,
			o.ID, o.PositionID, o.Symbol, o.Side, o.EntryPrice, o.EntryTime,
			o.ExitPrice, o.ExitTime, o.Quantity, o.QuantityClosed, o.Leverage, o.MarginUsed,
			o.StopLoss, o.GrossPnl, o.Fees, o.Funding, o.NetPnl, o.PartialPnl, o.PnlPercent,
			o.ExitReason, o.Duration.Milliseconds(), signal)
		if err != nil {
			return fmt.Errorf("failed to save order %s: %w", o.ID, err)
		}
		return nil
	})
}

func (p *Postgres) GetOrders(ctx context.Context, symbol string, start, end time.Time) ([]order.Order, error) {
	query := `
	SELECT id, position_id, symbol, side, entry_price, entry_time,
		exit_price, exit_time, quantity, quantity_closed, leverage, margin_used,
		stop_loss, gross_pnl, fees, funding, net_pnl, partial_pnl, pnl_percent,
		exit_reason, duration_ms, signal
	FROM orders
	WHERE exit_time >= $1 AND exit_time < $2`
	args := []any{start, end}
	if symbol != "" {
		query += " AND symbol = $3"
		args = append(args, symbol)
	}
	query += " ORDER BY exit_time"

	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var (
			o          order.Order
			durationMs int64
			signal     []byte
		)
		if err := rows.Scan(&o.ID, &o.PositionID, &o.Symbol, &o.Side, &o.EntryPrice, &o.EntryTime,
			&o.ExitPrice, &o.ExitTime, &o.Quantity, &o.QuantityClosed, &o.Leverage, &o.MarginUsed,
			&o.StopLoss, &o.GrossPnl, &o.Fees, &o.Funding, &o.NetPnl, &o.PartialPnl, &o.PnlPercent,
			&o.ExitReason, &durationMs, &signal); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Duration = time.Duration(durationMs) * time.Millisecond
		if len(signal) > 0 {
			if err := json.Unmarshal(signal, &o.Signal); err != nil {
				return nil, fmt.Errorf("failed to unmarshal order signal: %w", err)
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveEquitySample(ctx context.Context, s portfolio.EquitySample) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO equity_samples (time, equity, balance, open_positions) VALUES ($1,$2,$3,$4)`,
			s.Time, s.Equity, s.Balance, s.OpenPositions)
		if err != nil {
			return fmt.Errorf("failed to save equity sample: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetEquitySamples(ctx context.Context, start, end time.Time) ([]portfolio.EquitySample, error) {
	rows, err := p.queryWithTransaction(ctx,
		`SELECT time, equity, balance, open_positions FROM equity_samples WHERE time >= $1 AND time < $2 ORDER BY time`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity samples: %w", err)
	}
	defer rows.Close()

	var out []portfolio.EquitySample
	for rows.Next() {
		var s portfolio.EquitySample
		if err := rows.Scan(&s.Time, &s.Equity, &s.Balance, &s.OpenPositions); err != nil {
			return nil, fmt.Errorf("failed to scan equity sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveBaseline stores the baseline as a JSON document so the profit factor's
// infinite sentinel survives the round trip.
func (p *Postgres) SaveBaseline(ctx context.Context, b backtest.Baseline) error {
	if err := b.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO baselines (timestamp, data) VALUES ($1,$2)`, b.Timestamp, data)
		if err != nil {
			return fmt.Errorf("failed to save baseline: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetLatestBaseline(ctx context.Context) (*backtest.Baseline, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM baselines ORDER BY timestamp DESC, id DESC LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest baseline: %w", err)
	}
	var b backtest.Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baseline: %w", err)
	}
	return &b, nil
}

func (p *Postgres) LogEvent(ctx context.Context, event journal.Event) error {
	var data []byte
	if event.Data != nil {
		var err error
		data, err = json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (time, type, symbol, description, data) VALUES ($1,$2,$3,$4,$5)`,
			event.Time, event.Type, event.Symbol, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event %s: %w", event.Type, err)
		}
		return nil
	})
}

func (p *Postgres) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	query := `SELECT time, type, COALESCE(symbol, ''), description, data FROM events WHERE time >= $1 AND time < $2`
	args := []any{start, end}
	if eventType != "" {
		query += " AND type = $3"
		args = append(args, eventType)
	}
	query += " ORDER BY time"

	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []journal.Event
	for rows.Next() {
		var (
			e    journal.Event
			data []byte
		)
		if err := rows.Scan(&e.Time, &e.Type, &e.Symbol, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Package config
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

/*
YAML config example:
mode: "automatic"
symbols: ["BTCUSDT", "ETHUSDT"]
initial_balance: 10000
currency: "USDT"
feed_source: "binance"
db_conn_str: "postgres://..."
execution:
  spread_percent: 0.02
  slippage_percent: 0.05
  maker_fee_percent: 0.02
  taker_fee_percent: 0.055
  use_market_orders: true
trading:
  max_leverage: 20
  max_open_positions: 5
  tp1_close_percent: 50
  tp2_close_percent: 30
  trailing_stop_enabled: true
  trailing_stop_percent: 1.0
  funding_rate_percent: 0.01
  funding_interval: 8h
readiness:
  min_trades: 30
  min_win_rate: 0.5
  max_drawdown_percent: 15
  min_elapsed: 168h
*/

// ExecutionConfig controls simulated fill pricing and fees. Percent values
// are expressed as percents (0.05 means 0.05%).
type ExecutionConfig struct {
	SpreadPercent   float64 `yaml:"spread_percent"`
	SlippagePercent float64 `yaml:"slippage_percent"`
	MakerFeePercent float64 `yaml:"maker_fee_percent"`
	TakerFeePercent float64 `yaml:"taker_fee_percent"`
	UseMarketOrders bool    `yaml:"use_market_orders"`
}

// FeePercent returns the fee rate applied to fills under this configuration.
func (c ExecutionConfig) FeePercent() float64 {
	if c.UseMarketOrders {
		return c.TakerFeePercent
	}
	return c.MakerFeePercent
}

// TradingConfig controls position lifecycle behavior.
type TradingConfig struct {
	MaxLeverage         float64       `yaml:"max_leverage"`
	MaxOpenPositions    int           `yaml:"max_open_positions"`
	TP1ClosePercent     float64       `yaml:"tp1_close_percent"` // % of original quantity closed at TP1
	TP2ClosePercent     float64       `yaml:"tp2_close_percent"`
	TrailingStopEnabled bool          `yaml:"trailing_stop_enabled"` // promote to trailing after first TP hit
	TrailingStopPercent float64       `yaml:"trailing_stop_percent"` // distance from high-water mark
	FundingRatePercent  float64       `yaml:"funding_rate_percent"`  // per funding interval, on notional
	FundingInterval     time.Duration `yaml:"funding_interval"`
}

// ReadinessConfig holds the go-live criteria targets.
type ReadinessConfig struct {
	MinTrades                 int           `yaml:"min_trades"`
	MinWinRate                float64       `yaml:"min_win_rate"` // fraction, 0.5 = 50%
	MaxDrawdownPercent        float64       `yaml:"max_drawdown_percent"`
	MinElapsed                time.Duration `yaml:"min_elapsed"`
	BaselineWinRateTolerance  float64       `yaml:"baseline_win_rate_tolerance"`  // max |live - backtest| win-rate deviation
	BaselineDrawdownTolerance float64       `yaml:"baseline_drawdown_tolerance"`  // max drawdown-pct excess over backtest
}

type Config struct {
	Mode           string   `yaml:"mode"` // "manual" or "automatic"
	Symbols        []string `yaml:"symbols"`
	InitialBalance float64  `yaml:"initial_balance"`
	Currency       string   `yaml:"currency"`

	FeedSource   string `yaml:"feed_source"` // "binance" or "wallex"
	WallexAPIKey string `yaml:"wallex_api_key"`

	DBConnStr string `yaml:"db_conn_str"`
	DBMaxOpen int    `yaml:"db_max_open"`
	DBMaxIdle int    `yaml:"db_max_idle"`

	TelegramToken       string        `yaml:"telegram_token"`
	TelegramChatID      string        `yaml:"telegram_chat_id"`
	NotificationRetries int           `yaml:"notification_retries"`
	NotificationDelay   time.Duration `yaml:"notification_delay"`

	BaselineFile string `yaml:"baseline_file"`

	EquitySampleInterval time.Duration `yaml:"equity_sample_interval"`
	MaxTickAge           time.Duration `yaml:"max_tick_age"`

	AutoTradeMinScore      float64 `yaml:"auto_trade_min_score"`
	AutoTradeMinConfidence float64 `yaml:"auto_trade_min_confidence"`

	Execution ExecutionConfig `yaml:"execution"`
	Trading   TradingConfig   `yaml:"trading"`
	Readiness ReadinessConfig `yaml:"readiness"`
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Mode != "manual" && c.Mode != "automatic" {
		return fmt.Errorf("unsupported mode: %s", c.Mode)
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial balance must be positive, got %.2f", c.InitialBalance)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol required")
	}
	if c.Trading.MaxLeverage < 1 {
		return fmt.Errorf("max leverage must be >= 1, got %.2f", c.Trading.MaxLeverage)
	}
	if c.Trading.TP1ClosePercent <= 0 || c.Trading.TP1ClosePercent > 100 {
		return fmt.Errorf("tp1 close percent must be in (0, 100], got %.2f", c.Trading.TP1ClosePercent)
	}
	if c.Trading.TP2ClosePercent < 0 || c.Trading.TP1ClosePercent+c.Trading.TP2ClosePercent > 100 {
		return fmt.Errorf("tp1+tp2 close percents exceed 100")
	}
	return nil
}

// MustLoadConfig loads configuration from flags, with an optional YAML file
// override, and exits on invalid input.
func MustLoadConfig() Config {
	mode := flag.String("mode", "manual", "Mode: manual or automatic")
	symbolsFlag := flag.String("symbols", "BTCUSDT", "Comma-separated list of symbols to simulate")
	initialBalance := flag.Float64("initial-balance", 10000, "Starting paper balance")
	currency := flag.String("currency", "USDT", "Account currency")
	feedSource := flag.String("feed-source", "binance", "Tick feed source: binance or wallex")
	wallexAPIKey := flag.String("wallex-api-key", "", "Wallex API key (wallex feed only)")
	dbConnStr := flag.String("db-conn-str", "", "Postgres connection string (empty = in-memory storage)")
	dbMaxOpen := flag.Int("db-max-open", 10, "Max open DB connections")
	dbMaxIdle := flag.Int("db-max-idle", 5, "Max idle DB connections")
	telegramToken := flag.String("telegram-token", "", "Telegram bot token for notifications")
	telegramChatID := flag.String("telegram-chat", "", "Telegram chat ID for notifications")
	notificationRetries := flag.Int("notification-retries", 3, "Number of notification send attempts")
	notificationDelay := flag.Duration("notification-delay", 5*time.Second, "Delay between notification retries")
	baselineFile := flag.String("baseline-file", "", "Path to backtest baseline JSON (optional)")
	equitySampleInterval := flag.Duration("equity-sample-interval", 30*time.Second, "Min interval between equity curve samples")
	maxTickAge := flag.Duration("max-tick-age", time.Minute, "Reject ticks older than this (0 disables)")
	autoMinScore := flag.Float64("auto-min-score", 60, "Min signal score to auto-open a position")
	autoMinConfidence := flag.Float64("auto-min-confidence", 0.6, "Min signal confidence to auto-open a position")

	spreadPercent := flag.Float64("spread-percent", 0.02, "Simulated spread percent")
	slippagePercent := flag.Float64("slippage-percent", 0.05, "Simulated slippage percent")
	makerFeePercent := flag.Float64("maker-fee-percent", 0.02, "Maker fee percent")
	takerFeePercent := flag.Float64("taker-fee-percent", 0.055, "Taker fee percent")
	useMarketOrders := flag.Bool("use-market-orders", true, "Fill with taker fees (market orders)")

	maxLeverage := flag.Float64("max-leverage", 20, "Max allowed leverage")
	maxOpenPositions := flag.Int("max-open-positions", 5, "Max simultaneous open positions")
	tp1ClosePercent := flag.Float64("tp1-close-percent", 50, "Percent of quantity closed at TP1")
	tp2ClosePercent := flag.Float64("tp2-close-percent", 30, "Percent of quantity closed at TP2")
	trailingEnabled := flag.Bool("trailing-stop", true, "Promote to trailing stop after first TP hit")
	trailingPercent := flag.Float64("trailing-stop-percent", 1.0, "Trailing stop distance percent")
	fundingRatePercent := flag.Float64("funding-rate-percent", 0.01, "Funding rate percent per interval")
	fundingInterval := flag.Duration("funding-interval", 8*time.Hour, "Funding accrual interval")

	minTrades := flag.Int("readiness-min-trades", 30, "Readiness: minimum closed trades")
	minWinRate := flag.Float64("readiness-min-win-rate", 0.5, "Readiness: minimum win rate (fraction)")
	maxDrawdownPct := flag.Float64("readiness-max-drawdown-percent", 15, "Readiness: maximum drawdown percent")
	minElapsed := flag.Duration("readiness-min-elapsed", 7*24*time.Hour, "Readiness: minimum simulation time")
	baselineWinRateTol := flag.Float64("readiness-baseline-win-rate-tolerance", 0.1, "Readiness: max win-rate deviation from backtest")
	baselineDrawdownTol := flag.Float64("readiness-baseline-drawdown-tolerance", 5, "Readiness: max drawdown-percent excess over backtest")

	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to read config file: %v", err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			log.Fatalf("Failed to parse config file: %v", err)
		}
		if err := fileCfg.Validate(); err != nil {
			log.Fatalf("Invalid config file: %v", err)
		}
		return fileCfg
	}

	cfg := Config{
		Mode:                   *mode,
		Symbols:                strings.Split(*symbolsFlag, ","),
		InitialBalance:         *initialBalance,
		Currency:               *currency,
		FeedSource:             *feedSource,
		WallexAPIKey:           firstNonEmpty(*wallexAPIKey, os.Getenv("WALLEX_API_KEY")),
		DBConnStr:              firstNonEmpty(*dbConnStr, os.Getenv("DB_CONN_STR")),
		DBMaxOpen:              *dbMaxOpen,
		DBMaxIdle:              *dbMaxIdle,
		TelegramToken:          *telegramToken,
		TelegramChatID:         *telegramChatID,
		NotificationRetries:    *notificationRetries,
		NotificationDelay:      *notificationDelay,
		BaselineFile:           *baselineFile,
		EquitySampleInterval:   *equitySampleInterval,
		MaxTickAge:             *maxTickAge,
		AutoTradeMinScore:      *autoMinScore,
		AutoTradeMinConfidence: *autoMinConfidence,
		Execution: ExecutionConfig{
			SpreadPercent:   *spreadPercent,
			SlippagePercent: *slippagePercent,
			MakerFeePercent: *makerFeePercent,
			TakerFeePercent: *takerFeePercent,
			UseMarketOrders: *useMarketOrders,
		},
		Trading: TradingConfig{
			MaxLeverage:         *maxLeverage,
			MaxOpenPositions:    *maxOpenPositions,
			TP1ClosePercent:     *tp1ClosePercent,
			TP2ClosePercent:     *tp2ClosePercent,
			TrailingStopEnabled: *trailingEnabled,
			TrailingStopPercent: *trailingPercent,
			FundingRatePercent:  *fundingRatePercent,
			FundingInterval:     *fundingInterval,
		},
		Readiness: ReadinessConfig{
			MinTrades:                 *minTrades,
			MinWinRate:                *minWinRate,
			MaxDrawdownPercent:        *maxDrawdownPct,
			MinElapsed:                *minElapsed,
			BaselineWinRateTolerance:  *baselineWinRateTol,
			BaselineDrawdownTolerance: *baselineDrawdownTol,
		},
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

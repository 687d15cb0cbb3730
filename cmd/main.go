package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/paper-trader/internal/backtest"
	"github.com/amirphl/paper-trader/internal/config"
	"github.com/amirphl/paper-trader/internal/db"
	"github.com/amirphl/paper-trader/internal/feed"
	"github.com/amirphl/paper-trader/internal/notifier"
	"github.com/amirphl/paper-trader/internal/papertrading"
	"github.com/amirphl/paper-trader/internal/portfolio"
	"github.com/amirphl/paper-trader/internal/strategy"
)

func main() {
	// Load configuration
	cfg := config.MustLoadConfig()
	log.Println("Starting Paper Trader in mode:", cfg.Mode)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Initialize storage
	storage := newStorage(cfg)
	defer storage.Close()

	// Set up notification system
	n := newNotifier(cfg)

	// Create tick feed
	source := newFeedSource(cfg)

	// Load the backtest baseline, if one is available
	baseline := loadBaseline(ctx, cfg, storage)

	// Create portfolio and engine
	pf := portfolio.New(cfg, time.Now())
	engine := papertrading.New(cfg, pf, storage, source, n, baseline)

	// In automatic mode the built-in RSI crossover generator proposes trades;
	// in manual mode candidates come only from outside via engine.Signals().
	if cfg.Mode == "automatic" {
		engine.SetGenerator(strategy.NewRSICross(strategy.DefaultRSICrossParams()))
	}

	if err := engine.Run(ctx); err != nil {
		log.Fatalf("Engine stopped with error: %v", err)
	}

	log.Println("Shutdown complete")
}

// newStorage picks Postgres when a connection string is configured,
// otherwise falls back to in-memory storage.
func newStorage(cfg config.Config) db.Storage {
	if cfg.DBConnStr == "" {
		log.Println("No database configured, using in-memory storage")
		return db.NewMemory()
	}

	storage, err := db.Open(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Println("Connected to Postgres")
	return storage
}

func newNotifier(cfg config.Config) notifier.Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == "" {
		log.Println("Telegram not configured, notifications disabled")
		return notifier.Noop{}
	}
	return notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
}

func newFeedSource(cfg config.Config) feed.Source {
	switch cfg.FeedSource {
	case "wallex":
		return feed.NewWallexSource(cfg.WallexAPIKey, cfg.Symbols, 0)
	case "binance", "":
		return feed.NewBinanceSource(cfg.Symbols)
	default:
		log.Fatalf("Unsupported feed source: %s", cfg.FeedSource)
		return nil
	}
}

// loadBaseline prefers an explicit baseline file, then the latest baseline
// recorded in storage. Readiness runs without baseline criteria when neither
// exists.
func loadBaseline(ctx context.Context, cfg config.Config, storage db.Storage) *backtest.Baseline {
	if cfg.BaselineFile != "" {
		b, err := backtest.Load(cfg.BaselineFile)
		if err != nil {
			log.Fatalf("Failed to load baseline file %s: %v", cfg.BaselineFile, err)
		}
		log.Printf("Loaded backtest baseline: strategy=%s trades=%d winrate=%.2f", b.Strategy, b.TotalTrades, b.WinRate)
		return b
	}

	b, err := storage.GetLatestBaseline(ctx)
	if err != nil {
		log.Printf("Failed to load baseline from storage: %v", err)
		return nil
	}
	if b == nil {
		log.Println("No backtest baseline available, readiness will skip baseline criteria")
	}
	return b
}

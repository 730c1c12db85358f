package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/martingale-ladder-bot/internal/config"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/executor"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/logger"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/monitoring"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/notifications"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/planner"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/precision"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/runner"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/stats"
	"github.com/ducminhle1904/martingale-ladder-bot/internal/tracker"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Configuration file (e.g., btc-ladder.json)")
		envFile     = flag.String("env", ".env", "Environment file path")
		exportExcel = flag.String("export-excel", "", "Write the trade history to an XLSX file and exit")
	)
	flag.Parse()

	if *configFile == "" {
		log.Fatal("Please specify a config file with -config flag")
	}

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: could not load %s (%v), using existing environment", *envFile, err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *exportExcel != "" {
		store, err := stats.NewStore(cfg.Runtime.StatsDir, cfg.Strategy.Symbol)
		if err != nil {
			log.Fatalf("Failed to open stats: %v", err)
		}
		if err := store.ExportExcel(*exportExcel); err != nil {
			log.Fatalf("Failed to export: %v", err)
		}
		fmt.Printf("📊 Trade history written to %s\n", *exportExcel)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Bot exited with error: %v", err)
	}
}

func run(cfg *config.BotConfig) error {
	fileLog, err := logger.NewLogger(cfg.Strategy.Symbol)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer fileLog.Close()

	client := bybit.NewClient(bybit.Config{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Category:  cfg.Exchange.Category,
		Testnet:   cfg.Exchange.Testnet,
		Demo:      cfg.Exchange.Demo,
	})
	fmt.Printf("🏪 Connected to Bybit (%s, %s)\n", client.GetEnvironment(), cfg.Exchange.Category)

	stream := bybit.NewOrderStream(client.StreamURL(), cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	stream.OnReconnect(monitoring.RecordStreamReconnect)

	norm := precision.NewNormalizer(client)
	plan, err := planner.NewPlanner(planner.Config{
		Symbol:                cfg.Strategy.Symbol,
		TotalCapital:          cfg.Strategy.TotalCapital,
		MaxLayers:             cfg.Strategy.MaxLayers,
		Multiplier:            cfg.Strategy.Multiplier,
		PriceStepDown:         cfg.Strategy.PriceStepDown,
		FirstLayerFixedAmount: cfg.Strategy.FirstLayerFixedAmount,
		EntryGapAfterTP:       cfg.Strategy.EntryGapAfterTP,
	}, norm)
	if err != nil {
		return err
	}

	exec := executor.NewExecutor(client, norm, cfg.Strategy.Symbol, fileLog)
	track := tracker.NewFillTracker(client, exec, fileLog, cfg.Strategy.Symbol, cfg.Strategy.TakeProfitPct)
	store, err := stats.NewStore(cfg.Runtime.StatsDir, cfg.Strategy.Symbol)
	if err != nil {
		return err
	}

	health := monitoring.NewHealthChecker()
	if cfg.Runtime.MetricsAddr != "" {
		go serveMonitoring(cfg.Runtime.MetricsAddr, health)
	}

	bot := runner.NewRunner(cfg, client, stream, plan, exec, track, store, fileLog, health)
	if cfg.Notifications.Enabled {
		bot.SetNotifier(notifications.NewTelegramNotifier(
			cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID))
		fmt.Println("📱 Telegram notifications enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n🛑 Shutdown signal received...")
		bot.Stop()
	}()

	return bot.Run(ctx)
}

// serveMonitoring exposes /metrics and /health on the given address
func serveMonitoring(addr string, health *monitoring.HealthChecker) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.MetricsHandler())
	mux.Handle("/health", health)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("📡 Monitoring listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("Monitoring server stopped: %v", err)
	}
}

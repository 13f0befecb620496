package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamepulse/gamepulse/internal/config"
	"github.com/gamepulse/gamepulse/internal/correlate"
	"github.com/gamepulse/gamepulse/internal/differ"
	"github.com/gamepulse/gamepulse/internal/dispatch"
	"github.com/gamepulse/gamepulse/internal/health"
	"github.com/gamepulse/gamepulse/internal/logger"
	"github.com/gamepulse/gamepulse/internal/scheduler"
	"github.com/gamepulse/gamepulse/internal/source"
	"github.com/gamepulse/gamepulse/internal/store"
	"github.com/gamepulse/gamepulse/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	st, err := store.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close store: %v", err)
		}
	}()

	var sink dispatch.Sink = dispatch.NopSink{}
	var notifier scheduler.Notifier
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries,
			cfg.Telegram.RetryDelayBase,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		sink = telegramClient
		notifier = telegramClient
		logger.Info("Telegram sink initialized")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	dispatcher := dispatch.New(st, sink, cfg.Alerts.Cooldowns, cfg.Alerts.SinkTimeout)

	d := differ.New(
		differ.NewRegistry(cfg.Differ.ScoreFields, cfg.Differ.PriceFields),
		cfg.Differ.ThresholdPct,
	)
	tracker := correlate.NewTracker(cfg.Correlation.Lookback, cfg.Correlation.Lookahead, cfg.Correlation.MarketMap)
	buffer := correlate.NewBuffer(cfg.Correlation.Retention)

	// Market adapter goes first so same-cycle readings are buffered
	// before game events are correlated.
	adapters := []source.Adapter{
		source.NewMarket(source.Config{
			BaseURL:     cfg.Sources.Market.BaseURL,
			Timeout:     cfg.Sources.Market.Timeout,
			MinInterval: cfg.Sources.Market.MinInterval,
			Workers:     cfg.Sync.Workers,
		}),
		source.NewScoreboard(source.Config{
			BaseURL:     cfg.Sources.Scores.BaseURL,
			Timeout:     cfg.Sources.Scores.Timeout,
			MinInterval: cfg.Sources.Scores.MinInterval,
			Workers:     cfg.Sync.Workers,
		}),
	}

	sched := scheduler.New(
		scheduler.Config{
			CyclePeriod:         cfg.Sync.CyclePeriod,
			IdleInterval:        cfg.Sync.IdleInterval,
			FetchTimeout:        cfg.Sync.FetchTimeout,
			CycleDeadlineFactor: cfg.Sync.CycleDeadlineFactor,
			MaxBackoffCycles:    cfg.Sync.MaxBackoffCycles,
		},
		st, d, tracker, buffer, dispatcher, adapters, notifier,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	var healthSrv *health.Server
	if cfg.Health.Enabled {
		healthSrv = health.NewServer(cfg.Health.ListenAddr, sched)
		healthSrv.Start()
		logger.Info("Health endpoint listening on %s", cfg.Health.ListenAddr)
	}

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, draining current cycle...")
	cancel()

	select {
	case <-done:
	case <-time.After(cfg.Sync.DrainTimeout):
		logger.Warn("Drain timeout elapsed, exiting with cycle in flight")
	}

	if healthSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Health server shutdown: %v", err)
		}
	}
	logger.Info("Service stopped")
}

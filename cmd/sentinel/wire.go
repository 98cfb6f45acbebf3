package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"TreasurySentinel/internal/channel"
	"TreasurySentinel/internal/collector"
	"TreasurySentinel/internal/config"
	"TreasurySentinel/internal/notifier"
	"TreasurySentinel/internal/orchestrator"
	"TreasurySentinel/internal/recorder"
	"TreasurySentinel/internal/scheduler"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type app struct {
	orch     *orchestrator.Orchestrator
	sched    *scheduler.Scheduler
	telegram *notifier.TelegramNotifier
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires every component from cfg. withTelegram attaches the notifier.
func build(ctx context.Context, cfg *config.Config, log zerolog.Logger, withTelegram bool) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	risk, pm, err := buildAdapters(ctx, cfg, log, a)
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(orchestrator.Config{
		RiskMonitorID:      cfg.Agents.RiskMonitor,
		PortfolioManagerID: cfg.Agents.PortfolioManager,
		Policy:             cfg.Policy,
		ResponseTimeout:    cfg.Coordination.ResponseTimeout,
	}, risk, pm, log)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	if err := orch.Start(ctx); err != nil {
		return nil, fmt.Errorf("start orchestrator: %w", err)
	}
	a.orch = orch
	a.closers = append(a.closers, func() {
		if err := orch.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("close orchestrator")
		}
	})

	var prices collector.PriceSource
	switch cfg.Prices.Source {
	case config.PricesCoinGecko:
		prices = collector.NewCoinGeckoSource(cfg.Prices.BaseURL, cfg.Prices.APIKey, cfg.Proxy, cfg.Prices.TTL)
	default:
		prices = &collector.StaticPrices{Prices: cfg.Prices.Static}
	}
	col := collector.NewCollector(&collector.StaticBalances{Holdings: cfg.Treasury.Tokens}, prices, log)
	log.Info().Str("prices", prices.Name()).Int("tokens", len(cfg.Treasury.Tokens)).Msg("collector ready")

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.Database.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
			log.Warn().Err(err).Msg("create database directory, using noop recorder")
		} else if sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log); err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		} else {
			rec = sr
			a.closers = append(a.closers, func() { _ = sr.Close() })
		}
	}

	var sender scheduler.Sender
	if withTelegram {
		a.telegram = notifier.NewTelegramNotifier(cfg.Telegram.APIBase, cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		sender = a.telegram
	}

	a.sched = scheduler.NewScheduler(ctx, col, orch, sender, rec, scheduler.Treasury{
		MonthlyBurn: cfg.Treasury.MonthlyBurn,
		Thresholds:  cfg.Thresholds,
	}, log)
	ok = true
	return a, nil
}

func buildAdapters(ctx context.Context, cfg *config.Config, log zerolog.Logger, a *app) (channel.Adapter, channel.Adapter, error) {
	rm, pm := cfg.Agents.RiskMonitor, cfg.Agents.PortfolioManager
	switch cfg.Transport.Kind {
	case config.TransportPostgres:
		pool, err := pgxpool.New(ctx, cfg.Transport.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return channel.NewPostgresAdapter(pool, rm, log), channel.NewPostgresAdapter(pool, pm, log), nil
	case config.TransportWebSocket:
		return channel.NewWebSocketAdapter(cfg.Transport.RelayURL, rm, log),
			channel.NewWebSocketAdapter(cfg.Transport.RelayURL, pm, log), nil
	default:
		bus := channel.NewMemoryBus(log)
		return bus.Adapter(rm), bus.Adapter(pm), nil
	}
}

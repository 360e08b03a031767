package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/vitos/perp_trader/internal/config"
	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/infrastructure/exchange"
	"github.com/vitos/perp_trader/internal/infrastructure/logger"
	"github.com/vitos/perp_trader/internal/infrastructure/notifier"
	"github.com/vitos/perp_trader/internal/infrastructure/storage"
	"github.com/vitos/perp_trader/internal/strategy"
	"github.com/vitos/perp_trader/internal/usecase"
	"github.com/vitos/perp_trader/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	startupTimeout   = 30 * time.Second
	mirrorTTL        = 10 * time.Minute
	httpShutdownWait = 5 * time.Second
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the trading engine",
		Long: `Start the universe, analysis, position-monitor and summary loops.

SIGINT or SIGTERM stops the loops, cancels the protective orders of open
positions and leaves the positions themselves open. Exit status is 3 when
the exchange rejects the credentials, at startup or later, and 4 when the
drawdown guard liquidated the account.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts.configPath)
		},
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogFile != "" {
		return logger.NewFileLogger(cfg.LogFile, cfg.LogLevel)
	}
	return logger.NewLogger(cfg.LogLevel)
}

func newAdapter(cfg *config.Config, log *zap.Logger) *exchange.BinanceAdapter {
	return exchange.NewBinanceAdapter(exchange.Options{
		APIKey:      cfg.Binance.APIKey,
		APISecret:   cfg.Binance.APISecret,
		BaseURL:     cfg.Binance.RESTURL,
		MinInterval: cfg.Binance.RateLimitInterval,
	}, log)
}

func run(ctx context.Context, configPath string) error {
	// 1. Config and logger
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 2. Exchange, with an authenticated call before anything trades
	adapter := newAdapter(cfg, log)
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	balance, err := adapter.Balance(startCtx)
	cancel()
	if err != nil {
		log.Error("Startup balance check failed", zap.Error(err))
		return fmt.Errorf("startup balance check: %w", err)
	}
	log.Info("Exchange reachable", zap.Float64("balance_usdt", balance))

	// 3. Notifier
	tg, err := notifier.NewTelegram(notifier.Options{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID}, log)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	tg.Start()
	defer tg.Close()

	// 4. Persistence
	var sinks storage.MultiSink
	var journal web.Journal
	if cfg.SQLitePath != "" {
		store, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite journal: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
		journal = store
	}
	if cfg.PostgresDSN != "" {
		startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		pg, err := storage.NewPostgresStore(startCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("open postgres journal: %w", err)
		}
		defer pg.Close()
		sinks = append(sinks, pg)
	}
	var mirror domain.PositionMirror
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, position mirror disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			mirror = storage.NewRedisMirror(rdb, mirrorTTL)
		}
	}

	// 5. Strategies and engine
	strategies, err := strategy.Build(cfg.Trading.Strategies, cfg.Strategy, cfg.Location)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	stream := exchange.NewTickerStream(cfg.Binance.WSURL, cfg.Binance.TickerStale, log)

	engine, err := usecase.NewEngine(engineConfig(cfg), usecase.EngineDeps{
		Exchange:   adapter,
		Strategies: strategies,
		Reversal:   strategy.NewReversalDetector(cfg.Strategy.Confluence),
		Positions:  usecase.NewPositionTable(cfg.Trading.MaxPositions),
		TradeLog:   usecase.NewTradeLog(),
		Notifier:   tg,
		Prices:     stream,
		Sink:       sinks,
		Mirror:     mirror,
		OnUniverse: stream.SetSymbols,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	// 6. Background services
	svcCtx, stopServices := context.WithCancel(ctx)
	defer stopServices()
	g, gctx := errgroup.WithContext(svcCtx)
	g.Go(func() error { return stream.Run(gctx) })

	var server *web.Server
	if cfg.HTTPAddr != "" {
		server = web.NewServer(cfg.HTTPAddr, engine.Positions(), engine.TradeLog(), journal, engine, log)
		g.Go(func() error {
			if err := server.Start(); err != nil {
				log.Error("Ops server failed", zap.Error(err))
			}
			return nil
		})
	}

	tg.Notify(fmt.Sprintf("🚀 Bot started\nBalance: %.2f USDT\nStrategies: %s\nMax positions: %d, leverage %dx",
		balance, strings.Join(cfg.Trading.Strategies, ", "), cfg.Trading.MaxPositions, cfg.Trading.Leverage))

	// 7. Trade until signalled or liquidated
	runErr := engine.Run(ctx)

	stopServices()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownWait)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("Ops server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("Background service stopped with error", zap.Error(err))
	}

	if runErr != nil {
		log.Error("Engine stopped", zap.Error(runErr))
		return runErr
	}
	log.Info("Shutdown complete")
	return nil
}

func engineConfig(cfg *config.Config) usecase.EngineConfig {
	t := cfg.Trading
	return usecase.EngineConfig{
		Leverage:              t.Leverage,
		MaxExposure:           t.MaxExposure,
		AnalysisInterval:      t.AnalysisInterval,
		PositionCheckInterval: t.PositionCheckInterval,
		MaxTradeDuration:      t.MaxTradeDuration,
		EmergencyPeriod:       t.EmergencyPeriod,
		EmergencyDropPercent:  t.EmergencyDropPercent,
		UniverseSize:          t.UniverseSize,
		UniverseRefresh:       t.UniverseRefresh,
		KlineDelay:            t.KlineDelay,
		ExitGrace:             t.ExitGrace,
		SummaryTimes:          cfg.SummaryTimes,
		Location:              cfg.Location,
	}
}

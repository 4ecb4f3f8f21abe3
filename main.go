package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asset-rebalancer/internal/api"
	"asset-rebalancer/internal/app"
	"asset-rebalancer/internal/events"
	"asset-rebalancer/internal/keeper"
	"asset-rebalancer/internal/market"
	"asset-rebalancer/internal/monitor"
	"asset-rebalancer/internal/state"
	"asset-rebalancer/pkg/cache"
	"asset-rebalancer/pkg/config"
	"asset-rebalancer/pkg/db"
	"asset-rebalancer/pkg/logger"
	"asset-rebalancer/pkg/oracle"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v0.1-dev"
	}
	logCfg := logger.Config{
		Level:          cfg.LogLevel,
		Format:         cfg.LogFormat,
		FileEnabled:    cfg.LogFileEnabled,
		FilePath:       cfg.LogDir,
		RotationSize:   100,
		RetentionDays:  14,
		ServiceName:    "asset-rebalancer",
		ServiceVersion: buildVersion,
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatal().Err(err).Msg("logger init failed")
	}
	access := logger.NewAccessLogger(logCfg)
	log.Info().Str("port", cfg.Port).Str("db", cfg.DBPath).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("db init failed")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("db migrations failed")
	}

	// read model seeded from DB
	stateMgr := state.NewManager(database)
	if err := stateMgr.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("state load failed")
	}

	markets, err := config.LoadMarkets(cfg.MarketsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("markets load failed")
	}
	orders, err := app.OrderConfig(cfg.OrderStyle, cfg.MaxSlippageBps)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid order style")
	}

	bus := events.NewBus()
	sysMetrics := monitor.NewSystemMetrics()
	sysMetrics.SetBusDropped(bus.Dropped)

	// relay and program share one Hermes request per feed per second
	var external oracle.Feed
	if cfg.OracleSource == "hermes" {
		external = cache.NewFeed(oracle.NewHermesClient(cfg.HermesURL), time.Second)
	}
	stack, err := app.Build(app.Options{
		Markets: markets,
		Orders:  orders,
		Policy: oracle.Policy{
			MaxAge:     cfg.OracleMaxAge,
			MaxConfBps: cfg.OracleMaxConfBp,
			ClockSkew:  5 * time.Second,
		},
		MinTradeQuote: cfg.MinTradeQuote,
		Feed:          external,
		Store:         stateMgr,
		Bus:           bus,
		Recorder:      sysMetrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("program init failed")
	}
	log.Info().
		Str("market_a", stack.Fixture.Assets[0].Market.Symbol).
		Str("market_b", stack.Fixture.Assets[1].Market.Symbol).
		Str("oracle", cfg.OracleSource).
		Str("order_style", string(orders.Style)).
		Msg("program ready")

	g, gctx := errgroup.WithContext(ctx)

	// Price source
	var prices *oracle.MemoryFeed
	feedIDs := []string{stack.Fixture.Assets[0].Config.Feed, stack.Fixture.Assets[1].Config.Feed}
	switch cfg.OracleSource {
	case "hermes":
		relay := &market.Relay{Source: external, Bus: bus, Feeds: feedIDs, Interval: 5 * time.Second}
		g.Go(func() error { return relay.Run(gctx) })
		log.Info().Str("url", cfg.HermesURL).Msg("hermes relay started")
	case "mock":
		prices = stack.Prices
		mock := &market.MockFeed{
			Feed:     stack.Prices,
			Bus:      bus,
			StepBps:  cfg.MockFeedStepBps,
			Interval: cfg.MockFeedInterval,
		}
		g.Go(func() error { return mock.Run(gctx) })
		log.Info().Dur("interval", cfg.MockFeedInterval).Msg("mock feed started")
	default:
		// static prices; operators move them through the admin API
		prices = stack.Prices
	}

	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{}}
	mon.Start(gctx)

	if cfg.KeeperEnabled {
		k := keeper.NewKeeper(gctx, stack.Program, sysMetrics)
		if err := k.Register(cfg.KeeperSchedule); err != nil {
			log.Fatal().Err(err).Msg("keeper schedule invalid")
		}
		k.Start()
		g.Go(func() error {
			<-gctx.Done()
			k.Stop()
			return nil
		})
	}

	server := api.NewServer(api.Deps{
		Bus:     bus,
		DB:      database,
		State:   stateMgr,
		Program: stack.Program,
		Runtime: stack.Runtime,
		Fixture: stack.Fixture,
		Feed:    stack.Feed,
		Prices:  prices,
		Metrics: sysMetrics,
		Auth: api.AuthConfig{
			JWTSecret:         cfg.JWTSecret,
			AdminPasswordHash: cfg.AdminPasswordHash,
			TokenTTL:          cfg.TokenTTL,
		},
		Meta: api.SystemMeta{
			Version:      buildVersion,
			OracleSource: cfg.OracleSource,
			OrderStyle:   string(orders.Style),
			Keeper:       cfg.KeeperEnabled,
		},
		AccessLog: &access,
		RateLimit: api.RateLimit{PerSecond: cfg.RateLimitPerSec, Burst: cfg.RateLimitBurst},
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exited with error")
		database.Close()
		os.Exit(1)
	}
	log.Info().Msg("stopped")
}

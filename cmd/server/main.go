package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classbank/economy/internal/config"
	"github.com/classbank/economy/internal/database"
	"github.com/classbank/economy/internal/handlers"
	"github.com/classbank/economy/internal/market"
	mW "github.com/classbank/economy/internal/middleware"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/services"
	"github.com/classbank/economy/internal/storage"
	"github.com/classbank/economy/internal/storage/memory"
	"github.com/classbank/economy/internal/storage/postgres"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	configFile := flag.String("config", ".env", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, diagnose := openStore(ctx, cfg)
	defer store.Close()

	redisClient := database.InitRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	feed, err := newFeed(cfg.Market, redisClient)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure market feed")
	}

	ledger := services.NewLedgerService(store)
	svc := handlers.Services{
		Accounts:  services.NewAccountService(store),
		Ledger:    ledger,
		Transfers: services.NewTransferService(store, ledger),
		Jobs:      services.NewJobService(store, ledger),
		Quests:    services.NewQuestService(store, ledger),
		Trading:   services.NewTradingService(store, ledger, feed),
	}

	scheduler, err := schedulePriceRefresh(ctx, cfg.Market.RefreshSchedule, svc.Trading)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to schedule price refresh")
	}
	if scheduler != nil {
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	api := handlers.NewAPI(svc, diagnose)
	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.Router(handlers.RouterConfig{
			Auth:           mW.NewAuthenticator(cfg.JWT.SecretKey, cfg.JWT.Issuer),
			Limiter:        mW.NewRateLimiter(20, 40),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Timeout:        60 * time.Second,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		logrus.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()

	logrus.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	logrus.Info("Server stopped")
}

func setupLogging(cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetOutput(os.Stdout)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func(context.Context) database.Diagnosis) {
	if cfg.Server.MemoryStore {
		logrus.Warn("Running on the in-memory store; state is lost on exit")
		return memory.New(), nil
	}

	db, err := database.InitDB(ctx, cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(db); err != nil {
			logrus.WithError(err).Fatal("Failed to migrate database")
		}
	}

	diagDB := sqlx.NewDb(db, "postgres")
	diagnose := func(ctx context.Context) database.Diagnosis {
		return database.Diagnose(ctx, diagDB)
	}
	return postgres.New(db), diagnose
}

func newFeed(cfg config.MarketConfig, cache *redis.Client) (market.Feed, error) {
	switch cfg.Provider {
	case "static":
		prices, err := market.ParseStaticPrices(cfg.StaticPrices)
		if err != nil {
			return nil, err
		}
		return market.NewStaticFeed(prices), nil
	default:
		upstream, err := market.NewHTTPFeed(&http.Client{Timeout: cfg.Timeout}, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return market.NewResilientFeed(upstream,
			market.WithQuoteCache(cache, cfg.CacheTTL),
			market.WithRateLimit(cfg.RatePerSecond, cfg.Burst),
			market.WithCallTimeout(cfg.Timeout),
			market.WithRetries(cfg.MaxRetries, nil),
			market.WithBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		), nil
	}
}

// schedulePriceRefresh registers RefreshPrices on the cron spec. An empty
// spec disables it.
func schedulePriceRefresh(ctx context.Context, spec string, trading *services.TradingService) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		report, err := trading.RefreshPrices(ctx, models.System)
		if err != nil {
			logrus.WithError(err).Error("Scheduled price refresh failed")
			return
		}
		logrus.WithFields(logrus.Fields{
			"updated": len(report.Updated),
			"failed":  len(report.Failed),
		}).Info("Scheduled price refresh done")
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

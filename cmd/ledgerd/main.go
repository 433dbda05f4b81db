package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skylinetransit/ticketing/internal/ledger"
	"github.com/skylinetransit/ticketing/internal/promos"
	"github.com/skylinetransit/ticketing/internal/routepass"
	"github.com/skylinetransit/ticketing/internal/trips"
	"github.com/skylinetransit/ticketing/pkg/common"
	"github.com/skylinetransit/ticketing/pkg/config"
	"github.com/skylinetransit/ticketing/pkg/database"
	"github.com/skylinetransit/ticketing/pkg/eventbus"
	"github.com/skylinetransit/ticketing/pkg/logger"
	"github.com/skylinetransit/ticketing/pkg/middleware"
	"go.uber.org/zap"
)

const version = "1.0.0"

// expirySweepInterval is how often lapsed route passes are flipped to
// expired
const expirySweepInterval = time.Hour

func main() {
	cfg, err := config.Load("ledgerd")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if err := logger.Init(cfg.Server.Environment, cfg.Logging.Level); err != nil {
		logger.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Server.Environment,
			Release:     "ledgerd@" + version,
		}); err != nil {
			logger.Fatal("Failed to initialize sentry", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	pool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(pool)
	logger.Info("Connected to PostgreSQL database")

	if err := database.RunMigrations(cfg.Database.URL(), cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		bus, err = eventbus.Connect(cfg.NATS.URL)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer bus.Close()
		logger.Info("Connected to NATS")
	}

	db := database.NewDB(pool)
	passService := routepass.NewService(
		db,
		ledger.NewRepository(),
		routepass.NewRepository(),
		trips.NewRepository(),
		promos.NewApplier(promos.NewRepository()),
		bus,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepExpiredPasses(ctx, passService)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(), middleware.RequestLogger())

	router.GET("/healthz", common.HealthCheck("ledgerd", version))
	router.GET("/readyz", common.HealthCheckWithDeps("ledgerd", version, readinessChecks(pool, bus)))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Ops listener starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Ops listener failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ops listener shutdown failed", zap.Error(err))
	}
}

func readinessChecks(pool *pgxpool.Pool, bus *eventbus.Bus) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database": pool.Ping,
	}
	if bus != nil {
		checks["eventbus"] = bus.HealthCheck
	}
	return checks
}

func sweepExpiredPasses(ctx context.Context, svc *routepass.Service) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := svc.ExpirePasses(ctx, now); err != nil {
				logger.Error("Route pass expiry sweep failed", zap.Error(err))
			}
		}
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"donation-logistics-service/internal/adapters/cache"
	"donation-logistics-service/internal/adapters/catalog"
	"donation-logistics-service/internal/adapters/distance"
	"donation-logistics-service/internal/adapters/notify"
	"donation-logistics-service/internal/adapters/objectstore"
	"donation-logistics-service/internal/adapters/repositories"
	"donation-logistics-service/internal/adapters/repositories/memory"
	"donation-logistics-service/internal/adapters/repositories/postgres"
	"donation-logistics-service/internal/api"
	"donation-logistics-service/internal/platform/clock"
	"donation-logistics-service/internal/platform/config"
	"donation-logistics-service/internal/platform/db"
	"donation-logistics-service/internal/platform/logger"
	"donation-logistics-service/internal/ports"
	"donation-logistics-service/internal/services"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// main is the application composition root.
// It wires concrete adapters (Postgres or memory store, ORS, caches) behind
// ports and starts the HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var (
		store ports.Store
		sqlDB *sql.DB
	)
	if cfg.DatabaseURL != "" {
		var err error
		sqlDB, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		if err := postgres.InitSchema(sqlDB); err != nil {
			return err
		}

		pool, err := db.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		store = postgres.NewStore(pool)
		log.Info("using postgres store")
	} else {
		store = memory.NewStore()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}

	// Seed reference data on startup for local runs; the upsert is idempotent.
	if _, err := os.Stat(cfg.SeedPath); err == nil {
		if err := repositories.SeedFromJSON(ctx, store, cfg.SeedPath); err != nil {
			return err
		}
		log.Info("seed applied", zap.String("path", cfg.SeedPath))
	}

	distanceCache, closeCache, err := openDistanceCache(ctx, cfg, sqlDB)
	if err != nil {
		return err
	}
	defer closeCache()

	var provider ports.DistanceProvider = distance.StraightLineProvider{}
	if cfg.ORSAPIKey != "" {
		provider, err = distance.NewORSDistanceProvider(cfg.ORSAPIKey, distanceCache, log.Named("ors"))
		if err != nil {
			return err
		}
	} else {
		log.Warn("ORS_API_KEY not set, estimating distances from straight lines")
	}

	bus := notify.New(log.Named("notify"))
	bus.Subscribe(notify.LogListener(log.Named("notify")))
	defer bus.Wait()

	proofs, err := objectstore.NewLocal(cfg.ProofStorageDir)
	if err != nil {
		return err
	}

	clk := clock.Real()
	geo := services.NewGeoMatcher(provider, services.GeoMatcherConfig{
		MaxRadiusMeters:    cfg.MaxRadiusMeters,
		NearbyRadiusMeters: cfg.NearbyRadiusMeters,
		Timeout:            cfg.DistanceTimeout,
		Concurrency:        cfg.LookupConcurrency,
	}, log.Named("geo"))
	ledger := services.NewStockLedger(store, catalog.New(store), clk, log.Named("ledger"))
	lifecycle := services.NewRequestLifecycle(store, geo, ledger, bus, clk, log.Named("requests"))
	scheduler := services.NewRouteScheduler(store, geo, ledger, bus, proofs, clk, log.Named("routes"))
	sweeper := services.NewSweeper(lifecycle, ledger, log.Named("sweeper"))

	router := api.NewRouter(api.Deps{
		Requests:  lifecycle,
		Grouper:   services.NewDeliveryGrouper(store),
		Scheduler: scheduler,
		Ledger:    ledger,
		Sweeper:   sweeper,
		Clock:     clk,
		Log:       log.Named("http"),
	})

	go runSweeps(ctx, sweeper, cfg.SweepInterval, log)

	// Timeouts are tuned for cold-cache matching (external API latency).
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openDistanceCache selects the persistent cache behind the ORS provider.
func openDistanceCache(ctx context.Context, cfg *config.Config, sqlDB *sql.DB) (ports.DistanceCache, func(), error) {
	noop := func() {}

	switch cfg.DistanceCache {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("distance cache: ping redis %s: %w", cfg.RedisAddr, err)
		}
		return cache.NewRedisDistanceCache(client, cfg.DistanceCacheTTL), func() { _ = client.Close() }, nil
	case "postgres":
		if sqlDB == nil {
			return nil, noop, errors.New("distance cache: DISTANCE_CACHE=postgres requires DATABASE_URL")
		}
		return cache.NewSQLDistanceCache(sqlDB, cfg.DistanceCacheTTL), noop, nil
	case "sqlite":
		c, err := cache.OpenSqliteDistanceCache(ctx, cfg.SQLiteCachePath, cfg.DistanceCacheTTL)
		if err != nil {
			return nil, noop, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return nil, noop, nil
	}
}

func runSweeps(ctx context.Context, sweeper *services.Sweeper, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// dbtool prepares and maintains the Postgres database behind the service.
//
//	dbtool migrate            apply pending schema migrations
//	dbtool seed [--seed f]    upsert branches and catalog items from JSON
//	dbtool sweep              run one expiry pass over requests, legs and lots
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"donation-logistics-service/internal/adapters/catalog"
	"donation-logistics-service/internal/adapters/distance"
	"donation-logistics-service/internal/adapters/repositories"
	"donation-logistics-service/internal/adapters/repositories/postgres"
	"donation-logistics-service/internal/platform/clock"
	"donation-logistics-service/internal/platform/config"
	"donation-logistics-service/internal/platform/db"
	"donation-logistics-service/internal/platform/logger"
	"donation-logistics-service/internal/services"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var (
		databaseURL string
		seedPath    string
		logLevel    string
	)
	flagSet := pflag.NewFlagSet("dbtool", pflag.ContinueOnError)
	flagSet.StringVar(&databaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string (default: $DATABASE_URL)")
	flagSet.StringVar(&seedPath, "seed", cfg.SeedPath, "seed JSON file for the seed command")
	flagSet.StringVar(&logLevel, "log-level", cfg.LogLevel, "log level")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) != 1 {
		printHelp(flagSet)
		return errors.New("expected exactly one command")
	}
	if databaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	log, err := logger.New(logLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "migrate":
		return migrate(databaseURL, log)
	case "seed":
		return seed(ctx, databaseURL, seedPath, log)
	case "sweep":
		return sweep(ctx, databaseURL, log)
	default:
		printHelp(flagSet)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func migrate(databaseURL string, log *zap.Logger) error {
	sqlDB, err := db.Open(databaseURL)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	log.Info("initializing database schema")
	if err := postgres.InitSchema(sqlDB); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	log.Info("schema ready")
	return nil
}

func seed(ctx context.Context, databaseURL, seedPath string, log *zap.Logger) error {
	pool, err := db.OpenPool(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	log.Info("seeding database", zap.String("path", seedPath))
	if err := repositories.SeedFromJSON(ctx, postgres.NewStore(pool), seedPath); err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	log.Info("seeding complete")
	return nil
}

// sweep needs no distance lookups, so the matcher runs on the straight-line
// estimate and notifications are only logged.
func sweep(ctx context.Context, databaseURL string, log *zap.Logger) error {
	pool, err := db.OpenPool(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	clk := clock.Real()
	geo := services.NewGeoMatcher(distance.StraightLineProvider{}, services.DefaultGeoMatcherConfig(), log)
	ledger := services.NewStockLedger(store, catalog.New(store), clk, log)
	lifecycle := services.NewRequestLifecycle(store, geo, ledger, nil, clk, log)

	sum, err := services.NewSweeper(lifecycle, ledger, log).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Printf("expired requests=%d deliveries=%d lots=%d conflicts=%d\n",
		sum.Requests, sum.Deliveries, sum.Lots, sum.Conflicts)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: dbtool [flags] migrate|seed|sweep")
	fmt.Fprintln(os.Stderr)
	flagSet.PrintDefaults()
}

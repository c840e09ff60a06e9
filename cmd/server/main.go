package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/courtsidehq/courtside/modules/billing"
	billingpg "github.com/courtsidehq/courtside/modules/billing/postgres"
	"github.com/courtsidehq/courtside/pkg/config"
	"github.com/courtsidehq/courtside/pkg/httpserver"
	"github.com/courtsidehq/courtside/pkg/logger"
	"github.com/courtsidehq/courtside/pkg/pg"
	redisconn "github.com/courtsidehq/courtside/pkg/redis"
)

type appConfig struct {
	Environment string     `env:"APP_ENV" envDefault:"development"`
	HTTPAddr    string     `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		appCfg     appConfig
		pgCfg      pg.Config
		redisCfg   redisconn.Config
		billingCfg billing.Config
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&redisCfg)
	config.MustLoad(&billingCfg)

	log := logger.New(
		logger.WithLevel(appCfg.LogLevel),
		logger.WithEnvironment(appCfg.Environment, "courtside-server"),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisClient, err := redisconn.Connect(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	catalog := billingpg.NewCatalog(pool)
	if err := seedPlans(ctx, catalog, billingCfg.PlansPath, log); err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}

	store := billingpg.NewSubscriptionStore(pool)
	ledger := billingpg.NewLedger(pool)
	verifier := billing.NewVerifier(billingCfg.GatewayAPIKey, billingCfg.GatewayAPISecret)

	svc := billing.NewService(catalog, store, ledger, verifier,
		billing.WithLogger(log),
		billing.WithNotifyTimeout(billingCfg.NotifyTimeout),
	)
	entitlements := billing.NewEntitlementCache(svc, catalog, redisClient, billingCfg.EntitlementCacheTTL, log)
	svc.SetEntitlementInvalidator(entitlements.Invalidate)

	sweeper := billing.NewSweeper(store,
		billing.WithSweepInterval(billingCfg.SweepInterval),
		billing.WithSweeperLogger(log),
	)
	go func() {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			log.ErrorContext(ctx, "sweeper stopped", "error", err)
		}
	}()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/health", httpserver.HealthHandler(
		pg.Healthcheck(pool),
		redisconn.Healthcheck(redisClient),
	))
	router.Mount("/", billing.NewHandler(svc, entitlements, log).Router())

	srv := httpserver.New(
		httpserver.WithAddr(appCfg.HTTPAddr),
		httpserver.WithLogger(log),
	)
	return srv.Run(ctx, router)
}

// seedPlans upserts the YAML plan definitions into the persistent catalog.
// Plans already present are updated in place, so editing plans.yaml and
// restarting is the supported way to change pricing.
func seedPlans(ctx context.Context, catalog billing.Catalog, path string, log *slog.Logger) error {
	plans, err := billing.LoadPlansFile(path)
	if err != nil {
		return err
	}
	for i := range plans {
		if err := catalog.Upsert(ctx, &plans[i]); err != nil {
			return fmt.Errorf("upsert plan %s: %w", plans[i].Type, err)
		}
	}
	log.InfoContext(ctx, "plan catalog seeded", "plans", len(plans), "path", path)
	return nil
}

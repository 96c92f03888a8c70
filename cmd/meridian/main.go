package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/cmd/meridian/cli"
	"github.com/meridian-erp/meridian-erp/internal/accounting/journals"
	"github.com/meridian-erp/meridian-erp/internal/accounting/mappings"
	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/integration"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/products"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/production"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 2 && os.Args[1] == "replay" {
		runReplay(ctx, logger, cfg.PGDSN, os.Args[2])
		return
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	productsRepo := products.NewRepository(pool)
	costingLookup := products.NewCostingLookup(productsRepo)

	journalsRepo := journals.NewRepository(pool)
	journalsService := journals.NewService(journalsRepo, auditLogger)
	mappingsRepo := mappings.NewRepository(pool)

	var balanceCache *inventory.BalanceCache
	if redisClient != nil {
		balanceCache = inventory.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	}

	inventoryRepo := inventory.NewRepository(pool)
	inventoryEngine := inventory.NewEngine(costingLookup)
	inventoryService := inventory.NewService(inventoryRepo, inventoryEngine, costingLookup,
		auditLogger, idempotencyStore, balanceCache, nil, logger)

	hooks := integration.NewHooks(journalsService, mappingsRepo, inventoryService)
	inventoryService.SetIntegration(hooks)

	productsService := products.NewService(productsRepo, inventoryService)

	productionRepo := production.NewRepository(pool)
	productionService := production.NewService(productionRepo, inventoryEngine, inventoryService, logger)
	productionService.SetIntegration(hooks)

	productsHandler := products.NewHandler(logger, productsService)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)
	productionHandler := production.NewHandler(logger, productionService)
	journalsHandler := journals.NewHandler(logger, journalsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, jobsClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		ProductsHandler:   productsHandler,
		InventoryHandler:  inventoryHandler,
		ProductionHandler: productionHandler,
		JournalsHandler:   journalsHandler,
		JobsHandler:       jobsHandler,
		Pool:              pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runReplay(ctx context.Context, logger *slog.Logger, dsn, verb string) {
	replayCLI, err := cli.NewReplayCLI(ctx, dsn)
	if err != nil {
		logger.Error("replay init", slog.Any("error", err))
		os.Exit(1)
	}
	defer replayCLI.Close()
	if err := replayCLI.Run(ctx, verb, os.Stdout); err != nil {
		logger.Error("replay", slog.Any("error", err))
		os.Exit(1)
	}
}

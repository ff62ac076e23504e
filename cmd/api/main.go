package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/db"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/escrow"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/events"
	apphttp "github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http/dto"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http/handlers"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/services"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/tasks"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/migrations"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "mercato-api", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	redisOpt, err := db.AsynqRedisOpt(cfg.RedisURL)
	if err != nil {
		log.Fatal("invalid redis url", zap.Error(err))
	}
	queue := asynq.NewClient(redisOpt)
	defer queue.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	// Repositories
	dealRepo := repositories.NewDealRepo(pool)
	milestoneRepo := repositories.NewMilestoneRepo(pool)
	profileRepo := repositories.NewProfileRepo(pool)
	supplierRepo := repositories.NewSupplierRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	gateway := escrow.NewClient(cfg.EscrowAPIURL, cfg.EscrowAPIKey, cfg.EscrowHTTPTimeout, log)
	enqueuer := tasks.NewEnqueuer(queue, inspector, cfg.ReconcileMaxRetry, log)
	coordinator := services.NewCoordinator(dealRepo, milestoneRepo, profileRepo, supplierRepo, gateway, auditRepo, publisher, enqueuer, cfg, log)
	queries := services.NewDealQueries(dealRepo, profileRepo, supplierRepo, auditRepo, cfg)
	board := services.NewBoardService(dealRepo, gateway, log)
	reconciler := services.NewReconciler(dealRepo, milestoneRepo, gateway, auditRepo, publisher, log)
	catalog := services.NewCatalogService(supplierRepo)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, subscriber, dealRepo, log)
	sessions := handlers.NewSessions(profileRepo, wsHub)
	h := apphttp.Handlers{
		User:    handlers.NewUserHandler(profileRepo, cfg, log),
		Wallet:  handlers.NewWalletHandler(profileRepo, wsHub, log),
		Deal:    handlers.NewDealHandler(coordinator, queries, sessions, log),
		Admin:   handlers.NewAdminHandler(coordinator, board, reconciler, queries, sessions, log),
		Catalog: handlers.NewCatalogHandler(catalog, log),
		WS:      wsHub,
	}

	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, profileRepo, h)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

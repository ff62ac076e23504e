package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/db"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/escrow"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/events"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/services"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/tasks"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepLimit = 200

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "mercato-worker", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	redisOpt, err := db.AsynqRedisOpt(cfg.RedisURL)
	if err != nil {
		log.Fatal("invalid redis url", zap.Error(err))
	}

	// Repos
	dealRepo := repositories.NewDealRepo(pool)
	milestoneRepo := repositories.NewMilestoneRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	gateway := escrow.NewClient(cfg.EscrowAPIURL, cfg.EscrowAPIKey, cfg.EscrowHTTPTimeout, log)
	reconciler := services.NewReconciler(dealRepo, milestoneRepo, gateway, auditRepo, publisher, log)

	srv := tasks.NewServer(redisOpt, cfg.WorkerConcurrency, log)
	if err := srv.Start(tasks.NewServeMux(tasks.NewHandler(reconciler, log))); err != nil {
		log.Fatal("failed to start task server", zap.Error(err))
	}
	defer srv.Shutdown()

	var sched *cron.Cron
	if cfg.ReconcileSweepCron != "" {
		sched = cron.New()
		_, err := sched.AddFunc(cfg.ReconcileSweepCron, func() {
			runSweep(ctx, reconciler, log)
		})
		if err != nil {
			log.Fatal("invalid RECONCILE_SWEEP_CRON", zap.String("schedule", cfg.ReconcileSweepCron), zap.Error(err))
		}
		sched.Start()
		log.Info("reconcile sweep scheduled", zap.String("schedule", cfg.ReconcileSweepCron))
	}

	log.Info("worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down worker")
	if sched != nil {
		<-sched.Stop().Done()
	}
	cancel()
}

func runSweep(ctx context.Context, reconciler *services.Reconciler, log *zap.Logger) {
	if _, err := reconciler.Sweep(ctx, sweepLimit); err != nil {
		log.Error("reconcile sweep failed", zap.Error(err))
	}
}

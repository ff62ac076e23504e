package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/db"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/escrow"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/events"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/services"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/migrations"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (debug, info, warn, error)",
		Value: "info",
	}

	dealFlag = &cli.StringFlag{
		Name:     "deal",
		Usage:    "Deal id",
		Required: true,
	}

	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of open deals to sweep",
		Value: 200,
	}

	dryRunFlag = &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "List migration files without applying them",
	}
)

type env struct {
	cfg  *config.Config
	log  *zap.Logger
	pool *pgxpool.Pool
}

func main() {
	var e env

	app := cli.App{
		Name:  "mercatoctl",
		Usage: "operator tooling for the Mercato deal coordinator",
		Flags: []cli.Flag{verbosityFlag},
		Before: func(ctx *cli.Context) error {
			lvl, err := zapcore.ParseLevel(ctx.String(verbosityFlag.Name))
			if err != nil {
				return err
			}
			zcfg := zap.NewProductionConfig()
			zcfg.Level = zap.NewAtomicLevelAt(lvl)
			if e.log, err = zcfg.Build(); err != nil {
				return err
			}
			e.cfg = config.Load()
			e.pool, err = db.NewPostgresPool(ctx.Context, e.cfg.PostgresDSN, "mercatoctl", e.log)
			return err
		},
		After: func(*cli.Context) error {
			if e.pool != nil {
				e.pool.Close()
			}
			if e.log != nil {
				_ = e.log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "reconcile",
				Usage:  "repair one deal's milestone rows from the escrow mirror",
				Flags:  []cli.Flag{dealFlag},
				Action: e.reconcileDeal,
			},
			{
				Name:   "sweep",
				Usage:  "reconcile every funded or in-progress deal",
				Flags:  []cli.Flag{limitFlag},
				Action: e.sweep,
			},
			{
				Name:   "migrate",
				Usage:  "apply embedded database migrations",
				Flags:  []cli.Flag{dryRunFlag},
				Action: e.migrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (e *env) reconciler() *services.Reconciler {
	gateway := escrow.NewClient(e.cfg.EscrowAPIURL, e.cfg.EscrowAPIKey, e.cfg.EscrowHTTPTimeout, e.log)
	return services.NewReconciler(
		repositories.NewDealRepo(e.pool),
		repositories.NewMilestoneRepo(e.pool),
		gateway,
		repositories.NewAuditRepo(e.pool),
		events.NopPublisher{},
		e.log,
	)
}

func (e *env) reconcileDeal(ctx *cli.Context) error {
	id, err := uuid.Parse(ctx.String(dealFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid deal id: %w", err)
	}
	report, err := e.reconciler().ReconcileDeal(ctx.Context, id)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func (e *env) sweep(ctx *cli.Context) error {
	report, err := e.reconciler().Sweep(ctx.Context, ctx.Int(limitFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(report)
}

func (e *env) migrate(ctx *cli.Context) error {
	if ctx.Bool(dryRunFlag.Name) {
		files, err := db.PendingFiles(migrations.FS)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	}
	return db.RunMigrations(ctx.Context, e.pool, migrations.FS, e.log)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

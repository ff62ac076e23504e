package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http/handlers"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	User    *handlers.UserHandler
	Wallet  *handlers.WalletHandler
	Deal    *handlers.DealHandler
	Admin   *handlers.AdminHandler
	Catalog *handlers.CatalogHandler
	WS      *handlers.WSHub
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	profiles middleware.ProfileLookup,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := app.Group("/api/v1")
	if rdb != nil {
		api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))
	}

	// Public
	api.Get("/catalog/products", h.Catalog.Products)
	api.Get("/meta/deal-categories", h.Catalog.DealCategories)

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	protected.Get("/me", h.User.GetMe)
	protected.Get("/me/wallet", h.Wallet.GetWallet)
	protected.Put("/me/wallet", h.Wallet.ConnectWallet)
	protected.Delete("/me/wallet", h.Wallet.DisconnectWallet)

	protected.Post("/deals", h.Deal.CreateDeal)
	protected.Get("/deals", h.Deal.ListDeals)
	protected.Get("/deals/:id", h.Deal.GetDeal)
	protected.Post("/deals/:id/fund", h.Deal.FundDeal)
	protected.Post("/deals/:id/milestones/:index/proof", h.Deal.SubmitProof)

	admin := protected.Group("/admin", middleware.AdminMiddleware(cfg, profiles, log))
	admin.Get("/milestones", h.Admin.Board)
	admin.Get("/deals/:id/audit", h.Admin.AuditTrail)
	admin.Post("/deals/:id/milestones/:index/approve", h.Admin.ApproveMilestone)
	admin.Post("/deals/:id/milestones/:index/release", h.Admin.ReleaseMilestone)
	admin.Post("/deals/:id/cancel", h.Admin.CancelDeal)
	admin.Post("/deals/:id/complete", h.Admin.CompleteDeal)
	admin.Post("/deals/:id/reconcile", h.Admin.ReconcileDeal)

	// WebSocket: event push and the wallet signing bridge
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WS.HandleWS))
}

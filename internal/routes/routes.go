package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/crestfund/crestfund/internal/cache"
	"github.com/crestfund/crestfund/internal/config"
	"github.com/crestfund/crestfund/internal/ledger"
	"github.com/crestfund/crestfund/internal/middleware"
	"github.com/crestfund/crestfund/internal/notification"
	"github.com/crestfund/crestfund/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	var authority ledger.Authority
	if d.DB != nil {
		authority = ledger.NewPostgres(d.DB)
	} else {
		authority = ledger.NewInMemory()
	}

	policy := wallet.Policy{
		MinTransferAmount:      d.Cfg.MinTransferAmount,
		LargeTransferThreshold: d.Cfg.LargeTransferThreshold,
	}
	notifier := notification.NewLoggerNotifier(d.Logger)
	walletSvc := wallet.NewService(authority, cache.New(), notifier, policy,
		d.Cfg.BalanceCacheTTL, d.Cfg.HistoryCacheTTL, d.Logger)
	walletHandler := wallet.NewHandler(walletSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	jwtmw := middleware.JWTAuth(d.Cfg.JWTSecret)
	protected := api.Group("", jwtmw)
	rateLimiter := middleware.TransferRateLimit(d.Cache, d.Cfg.TransferRatePerMinute)
	RegisterWalletRoutes(protected, walletHandler, rateLimiter)

	return nil
}

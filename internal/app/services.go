package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/financial"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/trade"
)

// Services bundles the domain services shared by the API server and the worker.
type Services struct {
	Inventory *inventory.Service
	Contacts  *contacts.Service
	Trade     *trade.Service
	Financial *financial.Service
	Cache     *cache.Versioned
}

// NewServices wires repositories and services over the pool. A nil redis
// client disables report caching.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	runner := db.NewTxRunner(pool,
		db.WithMaxAttempts(cfg.TxMaxAttempts),
		db.WithLogger(logger),
		db.WithRetryHook(metrics.TxRetried),
	)
	auditLogger := shared.NewAuditLogger(pool)
	reportCache := cache.NewVersioned(redisClient, cfg.CacheTTL).WithLogger(logger)

	inventoryService := inventory.NewService(
		inventory.NewRepository(pool, runner),
		auditLogger,
		metrics,
		inventory.ServiceConfig{ZeroStockPolicy: cfg.ZeroStockPolicy(), LowStockThreshold: cfg.LowStock()},
		logger,
	)
	contactsService := contacts.NewService(contacts.NewRepository(pool, runner), auditLogger, cfg.DeletePolicy(), logger)
	tradeService := trade.NewService(trade.Deps{
		Repo:      trade.NewRepository(pool, runner),
		Inventory: inventoryService,
		Contacts:  contactsService,
		Idem:      shared.NewIdempotencyStore(pool),
		Cache:     reportCache,
		Audit:     auditLogger,
		Metrics:   metrics,
		Logger:    logger,
	})
	financialService := financial.NewService(financial.NewRepository(pool), reportCache, logger)

	return &Services{
		Inventory: inventoryService,
		Contacts:  contactsService,
		Trade:     tradeService,
		Financial: financialService,
		Cache:     reportCache,
	}
}

package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/milkround/internal/billing"
	"github.com/odyssey-erp/milkround/internal/observability"
	"github.com/odyssey-erp/milkround/internal/platform/cache"
	"github.com/odyssey-erp/milkround/internal/shared"
)

// NewBillingService assembles the billing engine with its Postgres store and
// the Redis-backed cache, undo journal and invoice locks. The API and the
// worker share this wiring so batch confirms behave like interactive ones.
func NewBillingService(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *billing.Service {
	service := billing.NewService(billing.NewRepository(pool), logger, billing.ServiceConfig{
		StoreTimeout: cfg.BillingStoreTimeout,
	})
	service.SetAuditRecorder(shared.NewAuditLogger(pool))
	service.SetIdempotency(shared.NewIdempotencyStore(pool))
	service.SetMetrics(metrics.Billing())
	if redisClient != nil {
		service.SetCache(billing.NewTotalsCache(redisClient, cfg.BillingTotalsTTL))
		service.SetUndoJournal(billing.NewUndoJournal(redisClient, cfg.BillingUndoTTL))
		service.SetLocker(cache.NewLocker(redisClient, cfg.BillingLockTTL, cfg.BillingLockWait).WithLogger(logger))
	}
	return service
}

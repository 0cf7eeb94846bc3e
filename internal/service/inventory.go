package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const stockCacheTTL = 5 * time.Minute

// InventoryLedger owns per-product available quantity. Reserve is the only
// way stock leaves the system and it is a single atomic conditional write, so
// concurrent checkouts cannot jointly oversell a product.
type InventoryLedger struct {
	store  Store
	cache  StockCache
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(store Store, cache StockCache) *InventoryLedger {
	return &InventoryLedger{
		store:  store,
		cache:  cache,
		logger: util.NamedLogger("inventory"),
	}
}

// Reserve decrements stock for a product and returns the unit price frozen at
// reservation time. The decrement persists immediately; a later failure in the
// surrounding checkout must compensate with Release.
func (l *InventoryLedger) Reserve(ctx context.Context, productID int64, quantity int) (decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if quantity < 1 {
		return decimal.Decimal{}, apperr.Validation("quantity must be at least 1")
	}

	price, remaining, ok, err := l.store.DecrementStock(ctx, productID, quantity)
	if err != nil {
		util.StockReservationsFailed.WithLabelValues("error").Inc()
		return decimal.Decimal{}, fmt.Errorf("failed to reserve stock for product %d: %w", productID, err)
	}

	if !ok {
		// The conditional write rejected; look at the product to tell the
		// caller whether it was missing/inactive or just short on stock.
		product, err := l.store.GetProductByID(ctx, productID)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("failed to look up product %d: %w", productID, err)
		}
		if product == nil || !product.IsActive {
			util.StockReservationsFailed.WithLabelValues("not_found").Inc()
			return decimal.Decimal{}, apperr.NotFound("product %d not found or inactive", productID)
		}
		util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return decimal.Decimal{}, apperr.OutOfStock("insufficient stock for product %d", productID)
	}

	if l.cache != nil {
		if err := l.cache.SetStockCache(ctx, productID, remaining, stockCacheTTL); err != nil {
			l.logger.Warn("Failed to update stock cache",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}

	return price, nil
}

// Release returns quantity to a product, compensating a cancelled or failed
// checkout slice.
func (l *InventoryLedger) Release(ctx context.Context, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Release")
	defer span.End()

	if err := l.store.RestoreStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("failed to release stock for product %d: %w", productID, err)
	}

	if l.cache != nil {
		if err := l.cache.InvalidateStockCache(ctx, productID); err != nil {
			l.logger.Warn("Failed to invalidate stock cache",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}

	return nil
}

// Available reports the current available quantity for a product, preferring
// the cache (kept fresh by recent reservations) over the catalog row.
func (l *InventoryLedger) Available(ctx context.Context, product *models.Product) int {
	if l.cache != nil {
		if cached, found, err := l.cache.GetStockCache(ctx, product.ID); err == nil && found {
			return cached
		}
	}
	return product.Quantity
}

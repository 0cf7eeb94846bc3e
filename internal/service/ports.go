package service

import (
	"context"
	"time"

	"marketplace-service/internal/gateway"
	"marketplace-service/internal/models"

	"github.com/shopspring/decimal"
)

// Store is the persistence surface the services depend on. *store.Store
// satisfies it; tests use in-memory fakes.
type Store interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) (decimal.Decimal, int, bool, error)
	RestoreStock(ctx context.Context, productID int64, quantity int) error

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByBuyerID(ctx context.Context, buyerID int64) ([]models.Order, error)
	GetOrdersBySellerID(ctx context.Context, sellerID int64) ([]models.Order, error)
	TransitionOrderStatus(ctx context.Context, orderID int64, from, to string) (bool, error)
	ListStalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)

	CreatePayment(ctx context.Context, payment *models.Payment) (bool, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error

	SaveOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
	ListOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	DeleteOutboxEvent(ctx context.Context, eventID string) error
}

// PaymentGateway is the remote provider surface. *gateway.Client satisfies it.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountMinorUnits int64, currency, receipt string) (*gateway.Intent, error)
	KeyID() string
}

// Publisher emits order lifecycle events. *broker.EventPublisher satisfies it.
// PublishRaw carries pre-serialized payloads out of the event outbox.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishRaw(ctx context.Context, key string, payload []byte) error
}

// StockCache is the advisory Redis surface used by the inventory ledger.
// *redisclient.Client satisfies it. A nil cache disables caching.
type StockCache interface {
	SetStockCache(ctx context.Context, productID int64, available int, ttl time.Duration) error
	GetStockCache(ctx context.Context, productID int64) (int, bool, error)
	InvalidateStockCache(ctx context.Context, productID int64) error
}

// CallbackDeduper short-circuits repeat gateway callbacks. Advisory only: the
// store-level guards remain the real idempotency barrier. The marker is
// written only after a callback fully applied, so a delivery that failed
// partway leaves no marker and its retry reaches the store.
type CallbackDeduper interface {
	WasCallbackSeen(ctx context.Context, gatewayPaymentID string) (bool, error)
	MarkCallbackSeen(ctx context.Context, gatewayPaymentID string, ttl time.Duration) error
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types published on the order-events topic
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published for each order created by a checkout
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	BuyerID     int64           `json:"buyer_id"`
	SellerID    int64           `json:"seller_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderPaidEvent published after a verified payment callback is applied
type OrderPaidEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	PaymentID     int64           `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
}

// OrderCancelledEvent published when an order is cancelled; the stock release
// worker consumes it to return the reserved quantities.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64           `json:"order_id"`
	Reason  string          `json:"reason"`
	Items   []OrderItemData `json:"items"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OutboxEvent is a serialized event waiting for the broker. Cancellations are
// queued here in the same sweep that flips the order, then drained to Kafka,
// so a broker outage delays the stock release instead of losing it.
type OutboxEvent struct {
	EventID    string    `db:"event_id" json:"event_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	MessageKey string    `db:"message_key" json:"message_key"`
	Payload    []byte    `db:"payload" json:"payload"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry owned by a seller. The catalog itself is managed
// elsewhere; this service only reads products and decrements their quantity.
type Product struct {
	ID        int64           `db:"id" json:"id"`
	SellerID  int64           `db:"seller_id" json:"seller_id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Quantity  int             `db:"quantity" json:"quantity"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Address is the shipping address snapshot stored on every order, denormalized
// so later edits to the buyer's address book never rewrite history.
type Address struct {
	Address string `json:"address"`
	City    string `json:"city"`
	Pincode string `json:"pincode"`
}

// Order is one seller's slice of a checkout. Line items carry the unit price
// frozen at order time and TotalAmount is never recomputed after creation.
type Order struct {
	ID          int64           `db:"id" json:"id"`
	BuyerID     int64           `db:"buyer_id" json:"buyer_id"`
	SellerID    int64           `db:"seller_id" json:"seller_id"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status      string          `db:"status" json:"status"`
	ShipAddress string          `db:"ship_address" json:"-"`
	ShipCity    string          `db:"ship_city" json:"-"`
	ShipPincode string          `db:"ship_pincode" json:"-"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`

	ShippingAddress Address     `db:"-" json:"shipping_address"`
	Items           []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem is a single product line within an order.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// Payment is the append-only ledger record of a verified charge against one
// order. PlatformFee plus SellerReceives always equals Amount. Rows are never
// updated; a correction is a new row.
type Payment struct {
	ID             int64           `db:"id" json:"id"`
	OrderID        int64           `db:"order_id" json:"order_id"`
	BuyerID        int64           `db:"buyer_id" json:"buyer_id"`
	SellerID       int64           `db:"seller_id" json:"seller_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	PlatformFee    decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	SellerReceives decimal.Decimal `db:"seller_receives" json:"seller_receives"`
	Status         string          `db:"status" json:"status"`
	Method         string          `db:"method" json:"method"`
	TransactionID  string          `db:"transaction_id" json:"transaction_id"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// Order statuses. Transitions are monotonic: pending→paid→shipped→delivered,
// or pending→cancelled. Guarded at the store layer.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// Roles resolved by the upstream auth layer. An actor carries a set of these,
// never a single enum.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// ProcessedEvent marks a consumed broker event for at-least-once dedup.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

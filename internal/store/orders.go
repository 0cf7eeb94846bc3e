package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-service/internal/models"
)

// CreateOrder inserts a new order with its frozen total and address snapshot
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (buyer_id, seller_id, total_amount, status, ship_address, ship_city, ship_pincode)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		order.BuyerID, order.SellerID, order.TotalAmount, order.Status,
		order.ShippingAddress.Address, order.ShippingAddress.City, order.ShippingAddress.Pincode)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return err
	}
	order.ShipAddress = order.ShippingAddress.Address
	order.ShipCity = order.ShippingAddress.City
	order.ShipPincode = order.ShippingAddress.Pincode
	return nil
}

// GetOrderByID retrieves an order by ID, nil if absent
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	order.ShippingAddress = models.Address{Address: order.ShipAddress, City: order.ShipCity, Pincode: order.ShipPincode}
	return &order, nil
}

// GetOrdersByBuyerID retrieves a buyer's orders, newest first
func (s *Store) GetOrdersByBuyerID(ctx context.Context, buyerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
	if err != nil {
		return nil, err
	}
	fillAddresses(orders)
	return orders, nil
}

// GetOrdersBySellerID retrieves a seller's sales, newest first
func (s *Store) GetOrdersBySellerID(ctx context.Context, sellerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE seller_id = $1 ORDER BY created_at DESC", sellerID)
	if err != nil {
		return nil, err
	}
	fillAddresses(orders)
	return orders, nil
}

func fillAddresses(orders []models.Order) {
	for i := range orders {
		orders[i].ShippingAddress = models.Address{
			Address: orders[i].ShipAddress,
			City:    orders[i].ShipCity,
			Pincode: orders[i].ShipPincode,
		}
	}
}

// TransitionOrderStatus moves an order from one status to the next. The guard
// on the current status keeps the lifecycle monotonic and makes repeated
// applications (duplicate callbacks, retried shipments) no-ops. Returns
// whether the transition applied.
func (s *Store) TransitionOrderStatus(ctx context.Context, orderID int64, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, orderID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListStalePendingOrders returns pending orders created before the cutoff
func (s *Store) ListStalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.OrderStatusPending, cutoff, limit)
	return orders, err
}

// CreateOrderItem inserts a line item with its price snapshot
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return s.db.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice)
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// CreatePayment appends a payment ledger row. The unique index on
// (order_id, transaction_id) absorbs duplicate callback deliveries: a second
// insert for the same charge matches the conflict and reports inserted=false.
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) (bool, error) {
	query := `
		INSERT INTO payments (order_id, buyer_id, seller_id, amount, platform_fee, seller_receives, status, method, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (order_id, transaction_id) DO NOTHING
		RETURNING id, created_at`

	row := s.db.QueryRowxContext(ctx, query,
		payment.OrderID, payment.BuyerID, payment.SellerID,
		payment.Amount, payment.PlatformFee, payment.SellerReceives,
		payment.Status, payment.Method, payment.TransactionID)
	err := row.Scan(&payment.ID, &payment.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create payment: %w", err)
	}
	return true, nil
}

// GetPaymentByOrderID retrieves the latest payment for an order, nil if absent
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

package service

import (
	"context"
	"fmt"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// OrderService covers the read side and the seller-driven shipment
// transitions. Payment owns pending→paid; everything here only moves orders
// forward along paid→shipped→delivered.
type OrderService struct {
	store  Store
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store Store) *OrderService {
	return &OrderService{
		store:  store,
		logger: util.NamedLogger("orders"),
	}
}

// GetOrder returns an order with its items. Only the buyer or seller of
// record may see it.
func (s *OrderService) GetOrder(ctx context.Context, actorID, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound("order %d not found", orderID)
	}

	if order.BuyerID != actorID && order.SellerID != actorID {
		return nil, apperr.Forbidden("not authorized to view this order")
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// ListBuyerOrders returns the buyer's orders, newest first
func (s *OrderService) ListBuyerOrders(ctx context.Context, buyerID int64) ([]models.Order, error) {
	return s.store.GetOrdersByBuyerID(ctx, buyerID)
}

// ListSellerOrders returns the seller's sales, newest first
func (s *OrderService) ListSellerOrders(ctx context.Context, sellerID int64) ([]models.Order, error) {
	return s.store.GetOrdersBySellerID(ctx, sellerID)
}

// MarkShipped moves a paid order to shipped. Seller of record only.
func (s *OrderService) MarkShipped(ctx context.Context, sellerID, orderID int64) error {
	return s.transition(ctx, sellerID, orderID, models.OrderStatusPaid, models.OrderStatusShipped)
}

// MarkDelivered moves a shipped order to delivered. Seller of record only.
func (s *OrderService) MarkDelivered(ctx context.Context, sellerID, orderID int64) error {
	return s.transition(ctx, sellerID, orderID, models.OrderStatusShipped, models.OrderStatusDelivered)
}

func (s *OrderService) transition(ctx context.Context, sellerID, orderID int64, from, to string) error {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return apperr.NotFound("order %d not found", orderID)
	}
	if order.SellerID != sellerID {
		return apperr.Forbidden("not authorized to update this order")
	}

	applied, err := s.store.TransitionOrderStatus(ctx, orderID, from, to)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", orderID, err)
	}
	if !applied {
		return apperr.Validation("order %d is not %s", orderID, from)
	}

	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("status", to))
	return nil
}

// GetPayment returns the ledger record for an order, if any
func (s *OrderService) GetPayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	return s.store.GetPaymentByOrderID(ctx, orderID)
}

package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/config"
	"marketplace-service/internal/apperr"
	"marketplace-service/internal/gateway"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	paymentMethodGateway = "razorpay"
	callbackDedupTTL     = 24 * time.Hour
)

// CheckoutService turns a submitted item list into per-seller orders, drives
// the gateway handshake, and reconciles the signed payment callback.
type CheckoutService struct {
	store     Store
	ledger    *InventoryLedger
	gateway   PaymentGateway
	publisher Publisher
	deduper   CallbackDeduper
	gwConfig  config.GatewayConfig
	business  config.BusinessConfig
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service. Gateway credentials and
// the fee policy are injected here, never read from the environment later.
func NewCheckoutService(
	store Store,
	ledger *InventoryLedger,
	gw PaymentGateway,
	publisher Publisher,
	deduper CallbackDeduper,
	gwConfig config.GatewayConfig,
	business config.BusinessConfig,
) *CheckoutService {
	return &CheckoutService{
		store:     store,
		ledger:    ledger,
		gateway:   gw,
		publisher: publisher,
		deduper:   deduper,
		gwConfig:  gwConfig,
		business:  business,
		logger:    util.NamedLogger("checkout"),
	}
}

// CheckoutItem is one requested product line
type CheckoutItem struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CheckoutResult holds the created orders and the grand total across sellers
type CheckoutResult struct {
	Orders      []models.Order  `json:"orders"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// CreateOrders validates every item, reserves stock, and creates one pending
// order per seller (items grouped by seller_id in first-appearance order).
// Line prices are frozen at reservation time and each order's total is
// computed once here. If a reservation fails after earlier ones succeeded,
// the earlier reservations are released and this checkout's orders cancelled
// before the error is returned.
func (s *CheckoutService) CreateOrders(ctx context.Context, buyerID int64, items []CheckoutItem, address models.Address) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateOrders")
	defer span.End()

	if len(items) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("empty_items").Inc()
		return nil, apperr.Validation("no order items provided")
	}
	for _, item := range items {
		if item.Quantity < 1 {
			util.CheckoutsFailedTotal.WithLabelValues("bad_quantity").Inc()
			return nil, apperr.Validation("quantity must be at least 1 for product %d", item.ProductID)
		}
	}

	products, err := s.validateItems(ctx, items)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	groups := groupBySeller(items, products)

	var (
		created  []models.Order
		reserved []CheckoutItem
		total    decimal.Decimal
	)

	fail := func(cause error) (*CheckoutResult, error) {
		s.compensate(ctx, created, reserved)
		util.CheckoutsFailedTotal.WithLabelValues("reservation").Inc()
		return nil, cause
	}

	for _, group := range groups {
		order := models.Order{
			BuyerID:         buyerID,
			SellerID:        group.sellerID,
			Status:          models.OrderStatusPending,
			ShippingAddress: address,
		}

		orderTotal := decimal.Zero
		var lines []models.OrderItem
		for _, item := range group.items {
			price, err := s.ledger.Reserve(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return fail(err)
			}
			reserved = append(reserved, item)

			lines = append(lines, models.OrderItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: price,
			})
			orderTotal = orderTotal.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		order.TotalAmount = orderTotal
		if err := s.store.CreateOrder(ctx, &order); err != nil {
			return fail(fmt.Errorf("failed to create order: %w", err))
		}

		for i := range lines {
			lines[i].OrderID = order.ID
			if err := s.store.CreateOrderItem(ctx, &lines[i]); err != nil {
				created = append(created, order)
				return fail(fmt.Errorf("failed to create order item: %w", err))
			}
		}
		order.Items = lines

		created = append(created, order)
		total = total.Add(orderTotal)
		util.OrdersCreatedTotal.Inc()

		s.logger.Info("Order created",
			zap.Int64("order_id", order.ID),
			zap.Int64("buyer_id", buyerID),
			zap.Int64("seller_id", group.sellerID),
			zap.String("total", orderTotal.String()))

		s.publishOrderCreated(ctx, &order, lines)
	}

	util.CheckoutsTotal.Inc()
	return &CheckoutResult{Orders: created, TotalAmount: total}, nil
}

// InitiatePayment asks the gateway for one payment intent covering the
// combined amount of a checkout. Amount arrives in major units and is
// converted to the provider's minor-unit convention. No order state changes.
func (s *CheckoutService) InitiatePayment(ctx context.Context, amount decimal.Decimal, receipt string) (*gateway.Intent, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.InitiatePayment")
	defer span.End()

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validation("amount must be positive")
	}
	if receipt == "" {
		return nil, apperr.Validation("receipt is required")
	}

	minorUnits := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	intent, err := s.gateway.CreateIntent(ctx, minorUnits, s.gwConfig.Currency, receipt)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment intent created",
		zap.String("intent_id", intent.ID),
		zap.Int64("amount_minor", intent.Amount),
		zap.String("currency", intent.Currency))

	return intent, nil
}

// ReconcilePayment is the trust boundary for the gateway callback. The
// signature is recomputed over "gatewayOrderID|gatewayPaymentID" with the
// shared secret and compared in constant time; nothing mutates on a mismatch.
// On a match every order in orderIDs moves pending→paid and gets exactly one
// payment ledger row. Safe under at-least-once delivery: the guarded
// transition and the (order_id, transaction_id) uniqueness make a second
// identical callback a no-op.
func (s *CheckoutService) ReconcilePayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string, orderIDs []int64) (string, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ReconcilePayment")
	defer span.End()

	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" || len(orderIDs) == 0 {
		return "", apperr.Validation("payment verification details are missing")
	}

	payload := gateway.CallbackPayload(gatewayOrderID, gatewayPaymentID)
	if !gateway.VerifySignature(payload, signature, s.gwConfig.KeySecret) {
		util.SignatureFailuresTotal.Inc()
		s.logger.Warn("Payment callback rejected",
			zap.String("gateway_order_id", gatewayOrderID),
			zap.String("gateway_payment_id", gatewayPaymentID))
		return "", apperr.InvalidSignature()
	}

	// A dedup marker exists only for callbacks that applied in full, so an
	// existing marker makes the repeat safe to answer without touching the
	// store. A delivery that failed partway left no marker and its retry
	// falls through to the guarded loop below.
	if s.deduper != nil {
		seen, err := s.deduper.WasCallbackSeen(ctx, gatewayPaymentID)
		if err != nil {
			// Advisory only; the store guards below still hold.
			s.logger.Warn("Callback dedup check failed", zap.Error(err))
		} else if seen {
			s.logger.Info("Duplicate payment callback",
				zap.String("gateway_payment_id", gatewayPaymentID))
			return gatewayPaymentID, nil
		}
	}

	for _, orderID := range orderIDs {
		if err := s.applyPayment(ctx, orderID, gatewayPaymentID); err != nil {
			return "", err
		}
	}

	if s.deduper != nil {
		if err := s.deduper.MarkCallbackSeen(ctx, gatewayPaymentID, callbackDedupTTL); err != nil {
			s.logger.Warn("Failed to record callback dedup marker", zap.Error(err))
		}
	}

	util.PaymentsVerifiedTotal.Inc()
	return gatewayPaymentID, nil
}

// applyPayment transitions one order to paid and appends its payment record.
// A missing order is logged and skipped so sibling orders of the same
// checkout still reconcile.
func (s *CheckoutService) applyPayment(ctx context.Context, orderID int64, transactionID string) error {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	if order == nil {
		s.logger.Warn("Order missing during reconciliation, skipping",
			zap.Int64("order_id", orderID))
		return nil
	}

	applied, err := s.store.TransitionOrderStatus(ctx, orderID, models.OrderStatusPending, models.OrderStatusPaid)
	if err != nil {
		return fmt.Errorf("failed to mark order %d paid: %w", orderID, err)
	}
	if !applied {
		s.logger.Info("Order not pending during reconciliation, skipping",
			zap.Int64("order_id", orderID),
			zap.String("status", order.Status))
		return nil
	}

	fee := s.platformFee(order.TotalAmount)
	payment := models.Payment{
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		Amount:         order.TotalAmount,
		PlatformFee:    fee,
		SellerReceives: order.TotalAmount.Sub(fee),
		Status:         models.PaymentStatusSuccess,
		Method:         paymentMethodGateway,
		TransactionID:  transactionID,
	}

	inserted, err := s.store.CreatePayment(ctx, &payment)
	if err != nil {
		return fmt.Errorf("failed to record payment for order %d: %w", orderID, err)
	}
	if !inserted {
		s.logger.Info("Payment already recorded",
			zap.Int64("order_id", orderID),
			zap.String("transaction_id", transactionID))
		return nil
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order paid",
		zap.Int64("order_id", order.ID),
		zap.String("transaction_id", transactionID),
		zap.String("platform_fee", fee.String()))

	event := &models.OrderPaidEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderPaid),
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		Amount:        payment.Amount,
		TransactionID: transactionID,
	}
	if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}

	return nil
}

// platformFee computes the marketplace's cut, rounded to two places. The
// seller payout is always the exact complement so fee + payout == amount.
func (s *CheckoutService) platformFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.business.PlatformFeePercent).Div(decimal.NewFromInt(100)).Round(2)
}

// GatewayKeyID exposes the public key id for client-side checkout widgets.
func (s *CheckoutService) GatewayKeyID() string {
	return s.gateway.KeyID()
}

// validateItems checks that every referenced product exists, is active, and
// shows enough stock before anything is reserved. Advisory against races
// (the reservation itself re-checks atomically) but it keeps the common
// failure out of the partially-reserved path.
func (s *CheckoutService) validateItems(ctx context.Context, items []CheckoutItem) (map[int64]*models.Product, error) {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	demand := make(map[int64]int, len(items))
	for _, item := range items {
		demand[item.ProductID] += item.Quantity
	}

	for _, id := range ids {
		product, ok := productMap[id]
		if !ok || !product.IsActive {
			return nil, apperr.NotFound("product %d not found or inactive", id)
		}
		if s.ledger.Available(ctx, product) < demand[id] {
			return nil, apperr.OutOfStock("insufficient stock for product %s", product.Name)
		}
	}

	return productMap, nil
}

// compensate rolls back a partially-built checkout: released reservations and
// cancelled orders. Failures here are logged, not returned; the original
// error is what the caller needs to see.
func (s *CheckoutService) compensate(ctx context.Context, created []models.Order, reserved []CheckoutItem) {
	for _, item := range reserved {
		if err := s.ledger.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("Failed to release reservation during compensation",
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
		}
	}

	for _, order := range created {
		applied, err := s.store.TransitionOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusCancelled)
		if err != nil || !applied {
			s.logger.Error("Failed to cancel order during compensation",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			continue
		}
		util.OrdersCancelledTotal.WithLabelValues("checkout_failed").Inc()
	}
}

func (s *CheckoutService) publishOrderCreated(ctx context.Context, order *models.Order, lines []models.OrderItem) {
	itemData := make([]models.OrderItemData, 0, len(lines))
	for _, line := range lines {
		itemData = append(itemData, models.OrderItemData{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		TotalAmount: order.TotalAmount,
		Items:       itemData,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// sellerGroup keeps one seller's slice of the submitted items
type sellerGroup struct {
	sellerID int64
	items    []CheckoutItem
}

// groupBySeller splits items into per-seller groups. Sellers appear in the
// order they first occur in the item list; items keep their submitted order
// within a group.
func groupBySeller(items []CheckoutItem, products map[int64]*models.Product) []sellerGroup {
	index := make(map[int64]int)
	var groups []sellerGroup

	for _, item := range items {
		sellerID := products[item.ProductID].SellerID
		i, ok := index[sellerID]
		if !ok {
			i = len(groups)
			index[sellerID] = i
			groups = append(groups, sellerGroup{sellerID: sellerID})
		}
		groups[i].items = append(groups[i].items, item)
	}

	return groups
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

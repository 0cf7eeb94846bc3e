package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace-service/internal/gateway"
	"marketplace-service/internal/models"

	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory Store. The conditional decrement holds the same
// contract as the SQL one: check and write under one lock.
type fakeStore struct {
	mu sync.Mutex

	products map[int64]*models.Product
	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	payments []models.Payment
	paymentK map[string]bool
	events   map[string]bool
	outbox   []models.OutboxEvent

	nextOrderID   int64
	nextItemID    int64
	nextPaymentID int64

	// failDecrement simulates a concurrent sale winning the row between
	// pre-validation and reservation.
	failDecrement map[int64]bool

	// failTransition[orderID] = n makes the next n status transitions for
	// that order fail, simulating a flaky connection mid-reconciliation.
	failTransition map[int64]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:       make(map[int64]*models.Product),
		orders:         make(map[int64]*models.Order),
		items:          make(map[int64][]models.OrderItem),
		paymentK:       make(map[string]bool),
		events:         make(map[string]bool),
		failDecrement:  make(map[int64]bool),
		failTransition: make(map[int64]int),
	}
}

func (f *fakeStore) addProduct(id, sellerID int64, price string, quantity int) {
	f.products[id] = &models.Product{
		ID:       id,
		SellerID: sellerID,
		Name:     fmt.Sprintf("product-%d", id),
		Price:    decimal.RequireFromString(price),
		Quantity: quantity,
		IsActive: true,
	}
}

func (f *fakeStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) DecrementStock(_ context.Context, productID int64, quantity int) (decimal.Decimal, int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok || !p.IsActive || p.Quantity < quantity || f.failDecrement[productID] {
		return decimal.Decimal{}, 0, false, nil
	}
	p.Quantity -= quantity
	return p.Price, p.Quantity, true, nil
}

func (f *fakeStore) RestoreStock(_ context.Context, productID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[productID]; ok {
		p.Quantity += quantity
	}
	return nil
}

func (f *fakeStore) CreateOrder(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextOrderID++
	order.ID = f.nextOrderID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) GetOrdersByBuyerID(_ context.Context, buyerID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrdersBySellerID(_ context.Context, sellerID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.SellerID == sellerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) TransitionOrderStatus(_ context.Context, orderID int64, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.failTransition[orderID]; n > 0 {
		f.failTransition[orderID] = n - 1
		return false, errors.New("connection reset")
	}
	o, ok := f.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeStore) ListStalePendingOrders(_ context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextItemID++
	item.ID = f.nextItemID
	f.items[item.OrderID] = append(f.items[item.OrderID], *item)
	return nil
}

func (f *fakeStore) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeStore) CreatePayment(_ context.Context, payment *models.Payment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d|%s", payment.OrderID, payment.TransactionID)
	if f.paymentK[key] {
		return false, nil
	}
	f.paymentK[key] = true
	f.nextPaymentID++
	payment.ID = f.nextPaymentID
	payment.CreatedAt = time.Now()
	f.payments = append(f.payments, *payment)
	return true, nil
}

func (f *fakeStore) GetPaymentByOrderID(_ context.Context, orderID int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.payments) - 1; i >= 0; i-- {
		if f.payments[i].OrderID == orderID {
			cp := f.payments[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[eventID], nil
}

func (f *fakeStore) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[eventID] = true
	return nil
}

func (f *fakeStore) SaveOutboxEvent(_ context.Context, event *models.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.outbox {
		if ev.EventID == event.EventID {
			return nil
		}
	}
	f.outbox = append(f.outbox, *event)
	return nil
}

func (f *fakeStore) ListOutboxEvents(_ context.Context, limit int) ([]models.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outbox) > limit {
		return append([]models.OutboxEvent(nil), f.outbox[:limit]...), nil
	}
	return append([]models.OutboxEvent(nil), f.outbox...), nil
}

func (f *fakeStore) DeleteOutboxEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.outbox[:0]
	for _, ev := range f.outbox {
		if ev.EventID != eventID {
			kept = append(kept, ev)
		}
	}
	f.outbox = kept
	return nil
}

// fakeGateway records intent requests
type fakeGateway struct {
	mu         sync.Mutex
	lastAmount int64
	lastRcpt   string
	err        error
}

func (g *fakeGateway) CreateIntent(_ context.Context, amountMinorUnits int64, currency, receipt string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.lastAmount = amountMinorUnits
	g.lastRcpt = receipt
	return &gateway.Intent{ID: "intent_test_1", Amount: amountMinorUnits, Currency: currency}, nil
}

func (g *fakeGateway) KeyID() string { return "key_test" }

// fakePublisher records published events
type fakePublisher struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	paid      []*models.OrderPaidEvent
	cancelled []*models.OrderCancelledEvent
}

func (p *fakePublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *fakePublisher) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return nil
}

func (p *fakePublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *fakePublisher) PublishRaw(_ context.Context, _ string, _ []byte) error {
	return nil
}

// fakeDeduper remembers marked ids
type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *fakeDeduper) WasCallbackSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *fakeDeduper) MarkCallbackSeen(_ context.Context, id string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	d.seen[id] = true
	return nil
}

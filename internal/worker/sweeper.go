package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepLockKey = "pending-order-sweep"

// Locker is the distributed lock surface the sweeper leader-elects with.
// *redisclient.Client satisfies it.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// PendingSweeper cancels checkouts whose payment callback never arrived.
// Orders stuck in pending longer than the timeout move to cancelled and an
// OrderCancelled event goes through the outbox to the broker so the stock
// release worker can return their reserved quantities.
type PendingSweeper struct {
	store     service.Store
	publisher service.Publisher
	locker    Locker
	timeout   time.Duration
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewPendingSweeper creates a new pending order sweeper
func NewPendingSweeper(
	store service.Store,
	publisher service.Publisher,
	locker Locker,
	timeout, interval time.Duration,
) *PendingSweeper {
	return &PendingSweeper{
		store:     store,
		publisher: publisher,
		locker:    locker,
		timeout:   timeout,
		interval:  interval,
		batchSize: 100,
		logger:    util.NamedLogger("sweeper"),
	}
}

// Start runs the sweep loop until the context is cancelled
func (sw *PendingSweeper) Start(ctx context.Context) error {
	sw.logger.Info("Starting pending order sweeper",
		zap.Duration("timeout", sw.timeout),
		zap.Duration("interval", sw.interval))

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("Sweeper context cancelled, stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := sw.sweepOnce(ctx); err != nil {
				sw.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}

// sweepOnce cancels one batch of stale pending orders under the leader lock
func (sw *PendingSweeper) sweepOnce(ctx context.Context) error {
	if sw.locker != nil {
		acquired, err := sw.locker.AcquireLock(ctx, sweepLockKey, sw.interval)
		if err != nil {
			return err
		}
		if !acquired {
			// Another instance is sweeping.
			return nil
		}
		defer func() {
			if err := sw.locker.ReleaseLock(ctx, sweepLockKey); err != nil {
				sw.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	cutoff := time.Now().Add(-sw.timeout)
	stale, err := sw.store.ListStalePendingOrders(ctx, cutoff, sw.batchSize)
	if err != nil {
		return err
	}

	for _, order := range stale {
		sw.cancelOrder(ctx, order)
	}

	if len(stale) > 0 {
		sw.logger.Info("Swept stale pending orders", zap.Int("count", len(stale)))
	}

	// Drain even when nothing was swept; earlier failed publishes wait here.
	sw.drainOutbox(ctx)
	return nil
}

// cancelOrder moves one stale order to cancelled and queues its OrderCancelled
// event in the outbox. Items are loaded and the event serialized before the
// transition, so any failure up to that point leaves the order pending for the
// next sweep. Once the transition lands the event already has a durable home.
func (sw *PendingSweeper) cancelOrder(ctx context.Context, order models.Order) {
	items, err := sw.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		sw.logger.Error("Failed to load items for stale order",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}

	itemData := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		itemData = append(itemData, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		Reason:  "payment_timeout",
		Items:   itemData,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		sw.logger.Error("Failed to serialize OrderCancelled event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}

	applied, err := sw.store.TransitionOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusCancelled)
	if err != nil {
		sw.logger.Error("Failed to cancel stale order",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}
	if !applied {
		// Paid or cancelled between listing and here. Leave it alone.
		return
	}

	util.OrdersCancelledTotal.WithLabelValues("payment_timeout").Inc()
	sw.logger.Info("Cancelled stale pending order", zap.Int64("order_id", order.ID))

	outbox := &models.OutboxEvent{
		EventID:    event.EventID,
		EventType:  event.EventType,
		MessageKey: fmt.Sprintf("order-%d", order.ID),
		Payload:    payload,
	}
	if err := sw.store.SaveOutboxEvent(ctx, outbox); err != nil {
		// The cancellation is committed but its stock release event has no
		// durable home; this needs operator attention.
		sw.logger.Error("Failed to queue OrderCancelled event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// drainOutbox pushes queued events to the broker and deletes the ones it
// accepted. Anything that fails stays queued for the next tick. A delete that
// fails after a successful publish means a duplicate publish later, which the
// consumer's processed-event markers absorb.
func (sw *PendingSweeper) drainOutbox(ctx context.Context) {
	events, err := sw.store.ListOutboxEvents(ctx, sw.batchSize)
	if err != nil {
		sw.logger.Error("Failed to list outbox events", zap.Error(err))
		return
	}

	for _, event := range events {
		if err := sw.publisher.PublishRaw(ctx, event.MessageKey, event.Payload); err != nil {
			sw.logger.Warn("Outbox publish failed, keeping event queued",
				zap.String("event_id", event.EventID),
				zap.Error(err))
			continue
		}
		if err := sw.store.DeleteOutboxEvent(ctx, event.EventID); err != nil {
			sw.logger.Error("Failed to delete published outbox event",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}
}

package worker

import (
	"context"
	"fmt"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// StockReleaseWorker consumes OrderCancelled events and returns the cancelled
// order's quantities to inventory. Processed-event markers keep the release
// idempotent under Kafka's at-least-once delivery.
type StockReleaseWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        service.Store
	ledger       *service.InventoryLedger
	logger       *zap.Logger
}

// NewStockReleaseWorker creates a new stock release worker
func NewStockReleaseWorker(
	consumer *broker.Consumer,
	store service.Store,
	ledger *service.InventoryLedger,
) *StockReleaseWorker {
	w := &StockReleaseWorker{
		consumer: consumer,
		store:    store,
		ledger:   ledger,
		logger:   util.NamedLogger("stock-release"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *StockReleaseWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock release worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockReleaseWorker) Stop() error {
	w.logger.Info("Stopping stock release worker")
	return w.consumer.Close()
}

func (w *StockReleaseWorker) handleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	w.logger.Info("Releasing stock for cancelled order",
		zap.Int64("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	// Each line gets its own marker, so a redelivery after a mid-event
	// failure resumes at the line that failed instead of restoring the
	// earlier lines a second time.
	for i, item := range event.Items {
		lineKey := fmt.Sprintf("%s/%d", event.EventID, i)
		done, err := w.store.IsEventProcessed(ctx, lineKey)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if err := w.ledger.Release(ctx, item.ProductID, item.Quantity); err != nil {
			w.logger.Error("Failed to release stock",
				zap.Int64("order_id", event.OrderID),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
			return err
		}
		if err := w.store.MarkEventProcessed(ctx, lineKey, event.EventType); err != nil {
			return err
		}
	}

	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

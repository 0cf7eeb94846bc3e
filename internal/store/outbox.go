package store

import (
	"context"

	"marketplace-service/internal/models"
)

// SaveOutboxEvent queues a serialized event for publication. Idempotent on
// event_id so a retried sweep cannot queue the same cancellation twice.
func (s *Store) SaveOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_outbox (event_id, event_type, message_key, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.EventType, event.MessageKey, event.Payload)
	return err
}

// ListOutboxEvents returns queued events, oldest first
func (s *Store) ListOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM event_outbox ORDER BY created_at, event_id LIMIT $1", limit)
	return events, err
}

// DeleteOutboxEvent removes an event the broker has accepted
func (s *Store) DeleteOutboxEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM event_outbox WHERE event_id = $1", eventID)
	return err
}

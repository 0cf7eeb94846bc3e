package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// DecrementStock decrements product stock in a single conditional write.
// The guard (is_active AND quantity >= requested) and the decrement are one
// statement, so two concurrent checkouts can never jointly oversell: the row
// lock serializes them and the loser matches zero rows. Returns the unit price
// at decrement time, the remaining quantity, and whether the decrement applied.
func (s *Store) DecrementStock(ctx context.Context, productID int64, quantity int) (decimal.Decimal, int, bool, error) {
	var row struct {
		Price    decimal.Decimal `db:"price"`
		Quantity int             `db:"quantity"`
	}
	err := s.db.GetContext(ctx, &row, `
		UPDATE products
		SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND is_active AND quantity >= $2
		RETURNING price, quantity`,
		productID, quantity)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, 0, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, 0, false, fmt.Errorf("failed to decrement stock: %w", err)
	}
	return row.Price, row.Quantity, true, nil
}

// RestoreStock returns quantity to a product (compensation for a cancelled
// order). Unconditional: the product row must exist even if deactivated.
func (s *Store) RestoreStock(ctx context.Context, productID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET quantity = quantity + $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	return err
}

// IsEventProcessed checks if a broker event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a broker event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

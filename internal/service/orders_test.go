package service

import (
	"context"
	"testing"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPaidOrder(t *testing.T, store *fakeStore) models.Order {
	t.Helper()
	order := models.Order{
		BuyerID:     1,
		SellerID:    10,
		Status:      models.OrderStatusPaid,
		TotalAmount: decimal.NewFromInt(200),
	}
	require.NoError(t, store.CreateOrder(context.Background(), &order))
	return order
}

func TestGetOrderAccess(t *testing.T) {
	store := newFakeStore()
	order := seedPaidOrder(t, store)
	svc := NewOrderService(store)

	// buyer of record
	got, err := svc.GetOrder(context.Background(), 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	// seller of record
	_, err = svc.GetOrder(context.Background(), 10, order.ID)
	require.NoError(t, err)

	// anyone else
	_, err = svc.GetOrder(context.Background(), 77, order.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	// unknown order
	_, err = svc.GetOrder(context.Background(), 1, 9999)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestShipmentLifecycle(t *testing.T) {
	store := newFakeStore()
	order := seedPaidOrder(t, store)
	svc := NewOrderService(store)

	// only the seller of record may ship
	err := svc.MarkShipped(context.Background(), 99, order.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	require.NoError(t, svc.MarkShipped(context.Background(), 10, order.ID))
	assert.Equal(t, models.OrderStatusShipped, store.orders[order.ID].Status)

	// shipping twice is rejected, status does not regress
	err = svc.MarkShipped(context.Background(), 10, order.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Equal(t, models.OrderStatusShipped, store.orders[order.ID].Status)

	require.NoError(t, svc.MarkDelivered(context.Background(), 10, order.ID))
	assert.Equal(t, models.OrderStatusDelivered, store.orders[order.ID].Status)
}

func TestDeliverRequiresShipped(t *testing.T) {
	store := newFakeStore()
	order := seedPaidOrder(t, store)
	svc := NewOrderService(store)

	err := svc.MarkDelivered(context.Background(), 10, order.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Equal(t, models.OrderStatusPaid, store.orders[order.ID].Status)
}

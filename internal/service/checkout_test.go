package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"marketplace-service/config"
	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

func newTestCheckout(store *fakeStore, gw *fakeGateway, pub *fakePublisher, ded CallbackDeduper) *CheckoutService {
	ledger := NewInventoryLedger(store, nil)
	return NewCheckoutService(store, ledger, gw, pub, ded,
		config.GatewayConfig{KeyID: "key_test", KeySecret: testSecret, Currency: "INR"},
		config.BusinessConfig{PlatformFeePercent: decimal.NewFromInt(5)})
}

func signPayload(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

var testAddress = models.Address{Address: "12 Market Road", City: "Pune", Pincode: "411001"}

func TestCreateOrdersEmptyItems(t *testing.T) {
	svc := newTestCheckout(newFakeStore(), &fakeGateway{}, &fakePublisher{}, nil)

	_, err := svc.CreateOrders(context.Background(), 1, nil, testAddress)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCreateOrdersFrozenTotal(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, 10, "100", 5)
	svc := newTestCheckout(store, &fakeGateway{}, &fakePublisher{}, nil)

	result, err := svc.CreateOrders(context.Background(), 1,
		[]CheckoutItem{{ProductID: 1, Quantity: 2}}, testAddress)

	require.NoError(t, err)
	require.Len(t, result.Orders, 1)

	order := result.Orders[0]
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("200")),
		"total = %s", order.TotalAmount)
	require.Len(t, order.Items, 1)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.RequireFromString("100")))

	// stock decremented by exactly the ordered quantity
	assert.Equal(t, 3, store.products[1].Quantity)
}

func TestCreateOrdersGroupsBySeller(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, 10, "50", 5)
	store.addProduct(2, 20, "30", 5)
	store.addProduct(3, 10, "20", 5)
	pub := &fakePublisher{}
	svc := newTestCheckout(store, &fakeGateway{}, pub, nil)

	result, err := svc.CreateOrders(context.Background(), 1, []CheckoutItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 2},
		{ProductID: 3, Quantity: 1},
	}, testAddress)

	require.NoError(t, err)
	require.Len(t, result.Orders, 2)

	// sellers appear in first-occurrence order, items grouped within
	first, second := result.Orders[0], result.Orders[1]
	assert.Equal(t, int64(10), first.SellerID)
	assert.True(t, first.TotalAmount.Equal(decimal.RequireFromString("70")))
	assert.Len(t, first.Items, 2)

	assert.Equal(t, int64(20), second.SellerID)
	assert.True(t, second.TotalAmount.Equal(decimal.RequireFromString("60")))

	assert.True(t, result.TotalAmount.Equal(decimal.RequireFromString("130")))
	assert.Len(t, pub.created, 2)
}

func TestCreateOrdersUnknownProduct(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, 10, "50", 5)
	svc := newTestCheckout(store, &fakeGateway{}, &fakePublisher{}, nil)

	_, err := svc.CreateOrders(context.Background(), 1, []CheckoutItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 99, Quantity: 1},
	}, testAddress)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	// pre-validation rejects before anything is reserved
	assert.Equal(t, 5, store.products[1].Quantity)
	assert.Empty(t, store.orders)
}

func TestCreateOrdersInsufficientStock(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, 10, "50", 1)
	svc := newTestCheckout(store, &fakeGateway{}, &fakePublisher{}, nil)

	_, err := svc.CreateOrders(context.Background(), 1,
		[]CheckoutItem{{ProductID: 1, Quantity: 2}}, testAddress)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindOutOfStock))
	assert.Equal(t, 1, store.products[1].Quantity)
	assert.Empty(t, store.orders)
}

func TestCreateOrdersCompensatesOnReservationRace(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, 10, "50", 5)
	store.addProduct(2, 20, "30", 5)
	// passes pre-validation, then loses the conditional write
	store.failDecrement[2] = true
	svc := newTestCheckout(store, &fakeGateway{}, &fakePublisher{}, nil)

	_, err := svc.CreateOrders(context.Background(), 1, []CheckoutItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	}, testAddress)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindOutOfStock))

	// the earlier reservation was released
	assert.Equal(t, 5, store.products[1].Quantity)
	// the earlier order of the same checkout was cancelled, not left pending
	for _, order := range store.orders {
		assert.Equal(t, models.OrderStatusCancelled, order.Status)
	}
}

func TestInitiatePaymentConvertsToMinorUnits(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestCheckout(newFakeStore(), gw, &fakePublisher{}, nil)

	intent, err := svc.InitiatePayment(context.Background(),
		decimal.RequireFromString("123.45"), "order-receipt-1")

	require.NoError(t, err)
	assert.Equal(t, int64(12345), gw.lastAmount)
	assert.Equal(t, "order-receipt-1", gw.lastRcpt)
	assert.Equal(t, "INR", intent.Currency)
}

func TestInitiatePaymentRejectsBadInput(t *testing.T) {
	svc := newTestCheckout(newFakeStore(), &fakeGateway{}, &fakePublisher{}, nil)

	_, err := svc.InitiatePayment(context.Background(), decimal.Zero, "r")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = svc.InitiatePayment(context.Background(), decimal.NewFromInt(10), "")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func checkoutOneOrder(t *testing.T, store *fakeStore, pub *fakePublisher) (*CheckoutService, models.Order) {
	t.Helper()
	store.addProduct(1, 10, "100", 5)
	svc := newTestCheckout(store, &fakeGateway{}, pub, nil)

	result, err := svc.CreateOrders(context.Background(), 1,
		[]CheckoutItem{{ProductID: 1, Quantity: 2}}, testAddress)
	require.NoError(t, err)
	return svc, result.Orders[0]
}

func TestReconcileForgedSignature(t *testing.T) {
	store := newFakeStore()
	svc, order := checkoutOneOrder(t, store, &fakePublisher{})

	_, err := svc.ReconcilePayment(context.Background(),
		"order_abc", "pay_xyz", "deadbeef", []int64{order.ID})

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidSignature))

	// nothing mutated
	assert.Equal(t, models.OrderStatusPending, store.orders[order.ID].Status)
	assert.Empty(t, store.payments)
}

func TestReconcileMissingFields(t *testing.T) {
	svc := newTestCheckout(newFakeStore(), &fakeGateway{}, &fakePublisher{}, nil)

	_, err := svc.ReconcilePayment(context.Background(), "order_abc", "", "sig", []int64{1})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = svc.ReconcilePayment(context.Background(), "order_abc", "pay_xyz", "sig", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestReconcileMarksPaidAndSplitsFee(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc, order := checkoutOneOrder(t, store, pub)

	paymentID, err := svc.ReconcilePayment(context.Background(),
		"order_abc", "pay_xyz", signPayload("order_abc", "pay_xyz"), []int64{order.ID})

	require.NoError(t, err)
	assert.Equal(t, "pay_xyz", paymentID)
	assert.Equal(t, models.OrderStatusPaid, store.orders[order.ID].Status)

	require.Len(t, store.payments, 1)
	payment := store.payments[0]
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("200")))
	assert.True(t, payment.PlatformFee.Equal(decimal.RequireFromString("10")),
		"fee = %s", payment.PlatformFee)
	assert.True(t, payment.SellerReceives.Equal(decimal.RequireFromString("190")))
	// the split always reassembles to the charged amount
	assert.True(t, payment.PlatformFee.Add(payment.SellerReceives).Equal(payment.Amount))
	assert.Equal(t, models.PaymentStatusSuccess, payment.Status)
	assert.Equal(t, "pay_xyz", payment.TransactionID)

	require.Len(t, pub.paid, 1)
	assert.Equal(t, order.ID, pub.paid[0].OrderID)
}

func TestReconcileIdempotent(t *testing.T) {
	store := newFakeStore()
	svc, order := checkoutOneOrder(t, store, &fakePublisher{})
	sig := signPayload("order_abc", "pay_xyz")

	_, err := svc.ReconcilePayment(context.Background(), "order_abc", "pay_xyz", sig, []int64{order.ID})
	require.NoError(t, err)

	// second identical delivery hits the store guards, not the dedup cache
	paymentID, err := svc.ReconcilePayment(context.Background(), "order_abc", "pay_xyz", sig, []int64{order.ID})
	require.NoError(t, err)
	assert.Equal(t, "pay_xyz", paymentID)

	assert.Len(t, store.payments, 1)
	assert.Equal(t, models.OrderStatusPaid, store.orders[order.ID].Status)
}

func TestReconcileDeduperShortCircuits(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, 10, "100", 5)
	ded := &fakeDeduper{}
	svc := newTestCheckout(store, &fakeGateway{}, &fakePublisher{}, ded)

	result, err := svc.CreateOrders(context.Background(), 1,
		[]CheckoutItem{{ProductID: 1, Quantity: 1}}, testAddress)
	require.NoError(t, err)
	orderID := result.Orders[0].ID
	sig := signPayload("order_abc", "pay_xyz")

	_, err = svc.ReconcilePayment(context.Background(), "order_abc", "pay_xyz", sig, []int64{orderID})
	require.NoError(t, err)
	// the marker is recorded only once the callback fully applied
	assert.True(t, ded.seen["pay_xyz"])

	paymentID, err := svc.ReconcilePayment(context.Background(), "order_abc", "pay_xyz", sig, []int64{orderID})
	require.NoError(t, err)
	assert.Equal(t, "pay_xyz", paymentID)

	assert.Len(t, store.payments, 1)
}

func TestReconcileRetryAfterPartialFailure(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, 10, "100", 5)
	store.addProduct(2, 20, "40", 5)
	ded := &fakeDeduper{}
	svc := newTestCheckout(store, &fakeGateway{}, &fakePublisher{}, ded)

	result, err := svc.CreateOrders(context.Background(), 1, []CheckoutItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 2},
	}, testAddress)
	require.NoError(t, err)
	require.Len(t, result.Orders, 2)
	first, second := result.Orders[0].ID, result.Orders[1].ID

	// the second order's paid transition fails once mid-callback
	store.failTransition[second] = 1
	sig := signPayload("order_abc", "pay_xyz")

	_, err = svc.ReconcilePayment(context.Background(),
		"order_abc", "pay_xyz", sig, []int64{first, second})
	require.Error(t, err)
	assert.Equal(t, models.OrderStatusPaid, store.orders[first].Status)
	assert.Equal(t, models.OrderStatusPending, store.orders[second].Status)
	// no marker for a partially applied callback
	assert.False(t, ded.seen["pay_xyz"])

	// the gateway redelivers the identical callback; it must finish the
	// job, not be swallowed as a duplicate
	paymentID, err := svc.ReconcilePayment(context.Background(),
		"order_abc", "pay_xyz", sig, []int64{first, second})
	require.NoError(t, err)
	assert.Equal(t, "pay_xyz", paymentID)

	assert.Equal(t, models.OrderStatusPaid, store.orders[second].Status)
	assert.Len(t, store.payments, 2)
	assert.True(t, ded.seen["pay_xyz"])
}

func TestReconcileSkipsMissingOrders(t *testing.T) {
	store := newFakeStore()
	svc, order := checkoutOneOrder(t, store, &fakePublisher{})

	_, err := svc.ReconcilePayment(context.Background(),
		"order_abc", "pay_xyz", signPayload("order_abc", "pay_xyz"),
		[]int64{9999, order.ID})

	// the unknown id is logged and skipped; the sibling still reconciles
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, store.orders[order.ID].Status)
	assert.Len(t, store.payments, 1)
}

func TestTwoSellerCheckoutReconcilesBothOrders(t *testing.T) {
	store := newFakeStore()
	store.addProduct(1, 10, "100", 5)
	store.addProduct(2, 20, "40", 5)
	gw := &fakeGateway{}
	svc := newTestCheckout(store, gw, &fakePublisher{}, nil)

	result, err := svc.CreateOrders(context.Background(), 1, []CheckoutItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 2},
	}, testAddress)
	require.NoError(t, err)
	require.Len(t, result.Orders, 2)
	assert.True(t, result.TotalAmount.Equal(decimal.RequireFromString("180")))

	// one combined intent for the grand total
	_, err = svc.InitiatePayment(context.Background(), result.TotalAmount, "rcpt-2sellers")
	require.NoError(t, err)
	assert.Equal(t, int64(18000), gw.lastAmount)

	// one callback reconciles both orders
	orderIDs := []int64{result.Orders[0].ID, result.Orders[1].ID}
	_, err = svc.ReconcilePayment(context.Background(),
		"order_abc", "pay_xyz", signPayload("order_abc", "pay_xyz"), orderIDs)
	require.NoError(t, err)

	for _, id := range orderIDs {
		assert.Equal(t, models.OrderStatusPaid, store.orders[id].Status)
	}
	assert.Len(t, store.payments, 2)
}

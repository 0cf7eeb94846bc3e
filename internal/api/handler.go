package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ctxKeyUserID = "user_id"
	ctxKeyRoles  = "roles"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout *service.CheckoutService
	orders   *service.OrderService
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout *service.CheckoutService, orders *service.OrderService) *Handler {
	return &Handler{
		checkout: checkout,
		orders:   orders,
		logger:   util.NamedLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(identityMiddleware())
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", h.createOrders)
			orders.GET("/mine", h.getMyOrders)
			orders.GET("/seller", requireRole(models.RoleSeller), h.getSellerOrders)
			orders.GET("/:id", h.getOrder)
			orders.PUT("/:id/ship", requireRole(models.RoleSeller), h.shipOrder)
			orders.PUT("/:id/deliver", requireRole(models.RoleSeller), h.deliverOrder)
		}

		payments := v1.Group("/payments")
		{
			payments.GET("/key", h.getGatewayKey)
			payments.POST("/create-order", h.createPaymentIntent)
			payments.POST("/verify-payment", h.verifyPayment)
		}
	}
}

// identityMiddleware resolves the actor from headers the upstream auth layer
// sets. Roles arrive as a comma-separated capability set, never a single enum.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-Id"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		roles := make(map[string]bool)
		for _, role := range strings.Split(c.GetHeader("X-User-Roles"), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles[role] = true
			}
		}

		c.Set(ctxKeyUserID, userID)
		c.Set(ctxKeyRoles, roles)
		c.Next()
	}
}

func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, _ := c.MustGet(ctxKeyRoles).(map[string]bool)
		if !roles[role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

func actorID(c *gin.Context) int64 {
	id, _ := c.MustGet(ctxKeyUserID).(int64)
	return id
}

// respondError maps taxonomy errors to their status; anything else is a 500
// with no internals leaked.
func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus(), gin.H{"error": appErr.Message})
		return
	}

	h.logger.Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type createOrdersRequest struct {
	Items           []service.CheckoutItem `json:"items"`
	ShippingAddress models.Address         `json:"shippingAddress"`
}

// createOrders handles checkout submission
func (h *Handler) createOrders(c *gin.Context) {
	var req createOrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.checkout.CreateOrders(c.Request.Context(), actorID(c), req.Items, req.ShippingAddress)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "Order(s) created",
		"orders":      result.Orders,
		"totalAmount": result.TotalAmount,
	})
}

// getOrder returns a single order for its buyer or seller
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), actorID(c), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// getMyOrders returns the logged-in buyer's orders
func (h *Handler) getMyOrders(c *gin.Context) {
	orders, err := h.orders.ListBuyerOrders(c.Request.Context(), actorID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// getSellerOrders returns the logged-in seller's sales
func (h *Handler) getSellerOrders(c *gin.Context) {
	orders, err := h.orders.ListSellerOrders(c.Request.Context(), actorID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// shipOrder marks a paid order as shipped
func (h *Handler) shipOrder(c *gin.Context) {
	h.updateOrderStatus(c, h.orders.MarkShipped, "Order marked as shipped")
}

// deliverOrder marks a shipped order as delivered
func (h *Handler) deliverOrder(c *gin.Context) {
	h.updateOrderStatus(c, h.orders.MarkDelivered, "Order marked as delivered")
}

func (h *Handler) updateOrderStatus(c *gin.Context, transition func(ctx context.Context, sellerID, orderID int64) error, message string) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	if err := transition(c.Request.Context(), actorID(c), orderID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// getGatewayKey echoes the public gateway key id for client checkout widgets
func (h *Handler) getGatewayKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"key": h.checkout.GatewayKeyID()})
}

type createIntentRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Receipt string          `json:"receipt"`
}

// createPaymentIntent creates one gateway intent for a checkout's grand total
func (h *Handler) createPaymentIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount and receipt are required"})
		return
	}

	intent, err := h.checkout.InitiatePayment(c.Request.Context(), req.Amount, req.Receipt)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       intent.ID,
		"amount":   intent.Amount,
		"currency": intent.Currency,
	})
}

type verifyPaymentRequest struct {
	GatewayOrderID   string  `json:"gateway_order_id"`
	GatewayPaymentID string  `json:"gateway_payment_id"`
	Signature        string  `json:"signature"`
	OrderIDs         []int64 `json:"orderIds"`
}

// verifyPayment reconciles the gateway's signed callback against the orders
func (h *Handler) verifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment verification details are missing"})
		return
	}

	paymentID, err := h.checkout.ReconcilePayment(c.Request.Context(),
		req.GatewayOrderID, req.GatewayPaymentID, req.Signature, req.OrderIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Payment verified successfully.",
		"paymentId": paymentID,
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

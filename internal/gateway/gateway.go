// Package gateway wraps the external payment provider: creating remote
// payment intents and verifying the signature on its asynchronous callback.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketplace-service/internal/apperr"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// Client talks to the provider's REST API with basic auth credentials.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a gateway client. Credentials come from config, never
// from the environment inside business logic.
func NewClient(baseURL, keyID, keySecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		http:      &http.Client{Timeout: 15 * time.Second},
		logger:    util.NamedLogger("gateway"),
	}
}

// KeyID returns the public key id clients embed in their checkout widget.
func (c *Client) KeyID() string {
	return c.keyID
}

// Intent is the provider's handle for one combined charge. A multi-seller
// checkout shares a single intent across all its orders.
type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type intentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateIntent creates a remote payment intent for amount in the provider's
// minor units. Provider failures surface as gateway errors, never swallowed.
func (c *Client) CreateIntent(ctx context.Context, amountMinorUnits int64, currency, receipt string) (*Intent, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(intentRequest{
		Amount:   amountMinorUnits,
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Gateway intent request failed", zap.Error(err))
		return nil, apperr.Gateway(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		// Provider error bodies stay in logs; clients get the generic message.
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Gateway rejected intent",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return nil, apperr.Gateway(fmt.Errorf("provider returned status %d", resp.StatusCode))
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, apperr.Gateway(fmt.Errorf("failed to decode intent response: %w", err))
	}

	util.PaymentIntentsTotal.Inc()
	return &intent, nil
}

// VerifySignature checks an HMAC-SHA256 hex signature over payload using the
// shared secret. Pure and deterministic; hmac.Equal keeps the comparison
// constant-time regardless of where the digests diverge.
func VerifySignature(payload, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// CallbackPayload builds the canonical string the provider signs.
func CallbackPayload(gatewayOrderID, gatewayPaymentID string) string {
	return gatewayOrderID + "|" + gatewayPaymentID
}

// Package paymenthttp is the HTTP client for the external payment provider.
package paymenthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/coursekart/internal/domain/order"
)

var _ order.PaymentProvider = (*Client)(nil)

// Client implements order.PaymentProvider against the provider's JSON API.
// Calls are plain blocking requests; retries are the caller's concern.
type Client struct {
	baseURL  string
	currency string
	http     *http.Client
}

// New creates a payment Client for the given provider base URL.
func New(baseURL, currency string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		currency: currency,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type createPaymentRequest struct {
	OrderID  string          `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Method   string          `json:"method"`
}

type createPaymentResponse struct {
	PaymentRef string `json:"payment_ref"`
}

// CreatePayment asks the provider to authorize a payment for the order and
// returns the provider-side payment reference.
func (c *Client) CreatePayment(ctx context.Context, orderID string, amount decimal.Decimal, method string) (string, error) {
	var resp createPaymentResponse
	err := c.post(ctx, "/v1/payments", createPaymentRequest{
		OrderID:  orderID,
		Amount:   amount,
		Currency: c.currency,
		Method:   method,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.PaymentRef == "" {
		return "", errors.New("provider returned empty payment ref")
	}
	return resp.PaymentRef, nil
}

type refundRequest struct {
	PaymentRef string          `json:"payment_ref"`
	Amount     decimal.Decimal `json:"amount"`
}

// Refund asks the provider to refund part or all of a captured payment.
func (c *Client) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error {
	return c.post(ctx, "/v1/refunds", refundRequest{
		PaymentRef: paymentRef,
		Amount:     amount,
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "call provider")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("provider returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}

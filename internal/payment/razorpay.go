package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Doer executes an outbound HTTP request. Satisfied by resilience.HTTPClient.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Razorpay implements Gateway against the Razorpay Orders API. Signature
// verification is a local HMAC check and never calls the network.
type Razorpay struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Client    Doer
}

func (r Razorpay) host() string {
	host := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if host == "" {
		return "https://api.razorpay.com"
	}
	return host
}

// CreateOrder registers an order with the gateway and returns its reference.
func (r Razorpay) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (Order, error) {
	if r.Client == nil {
		return Order{}, errors.New("payment: http client not configured")
	}
	if amount <= 0 {
		return Order{}, fmt.Errorf("payment: invalid order amount %d", amount)
	}
	body, err := json.Marshal(map[string]any{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	})
	if err != nil {
		return Order{}, err
	}
	req, err := http.NewRequest(http.MethodPost, r.host()+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.KeyID, r.KeySecret)

	resp, err := r.Client.Do(ctx, req)
	if err != nil {
		return Order{}, fmt.Errorf("payment: create order: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Order{}, fmt.Errorf("payment: create order: gateway returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	var payload struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Order{}, fmt.Errorf("payment: decode order response: %w", err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return Order{}, errors.New("payment: gateway returned empty order id")
	}
	return Order{Ref: payload.ID, Amount: payload.Amount, Currency: payload.Currency}, nil
}

// VerifySignature checks the callback signature over "orderRef|paymentRef".
// Deterministic and side-effect free, so callers may retry it safely.
func (r Razorpay) VerifySignature(orderRef, paymentRef, signature string) bool {
	key := strings.TrimSpace(r.KeySecret)
	provided := strings.TrimSpace(signature)
	if key == "" || provided == "" || orderRef == "" || paymentRef == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(orderRef))
	mac.Write([]byte("|"))
	mac.Write([]byte(paymentRef))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

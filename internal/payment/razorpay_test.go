package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/testkart/backend-testkart/internal/resilience"
)

func sign(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	gw := Razorpay{KeyID: "rzp_test_key", KeySecret: "s3cret"}

	good := sign("s3cret", "order_abc", "pay_xyz")
	if !gw.VerifySignature("order_abc", "pay_xyz", good) {
		t.Fatal("expected valid signature to verify")
	}
	if gw.VerifySignature("order_abc", "pay_xyz", good+"00") {
		t.Fatal("tampered signature must not verify")
	}
	if gw.VerifySignature("order_other", "pay_xyz", good) {
		t.Fatal("signature bound to another order must not verify")
	}
	if gw.VerifySignature("order_abc", "pay_xyz", "") {
		t.Fatal("empty signature must not verify")
	}
}

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "s3cret" {
			t.Errorf("unexpected credentials %q/%q", user, pass)
		}
		var body struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Receipt  string `json:"receipt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode order body: %v", err)
		}
		if body.Amount != 75000 || body.Currency != "INR" {
			t.Errorf("unexpected order body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       "order_123",
			"amount":   body.Amount,
			"currency": body.Currency,
		})
	}))
	defer srv.Close()

	gw := Razorpay{
		KeyID:     "rzp_test_key",
		KeySecret: "s3cret",
		BaseURL:   srv.URL,
		Client: resilience.HTTPClient{
			Client:  srv.Client(),
			Breaker: resilience.NewBreaker(5, 0.5, time.Minute),
		},
	}

	order, err := gw.CreateOrder(context.Background(), 75000, "INR", "bundle_42")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Ref != "order_123" {
		t.Fatalf("unexpected order ref %q", order.Ref)
	}
	if order.Amount != 75000 || order.Currency != "INR" {
		t.Fatalf("unexpected order echo %+v", order)
	}
}

func TestCreateOrderGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"description":"nope"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	gw := Razorpay{
		KeyID:     "k",
		KeySecret: "s",
		BaseURL:   srv.URL,
		Client:    resilience.HTTPClient{Client: srv.Client()},
	}
	if _, err := gw.CreateOrder(context.Background(), 100, "INR", "r"); err == nil {
		t.Fatal("expected error for rejected order")
	}
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	gw := Razorpay{Client: resilience.HTTPClient{Client: http.DefaultClient}}
	if _, err := gw.CreateOrder(context.Background(), 0, "INR", "r"); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

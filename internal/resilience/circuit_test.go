package resilience

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(4, 0.5, time.Minute)

	for i := 0; i < 4; i++ {
		if !b.Allow(ctx) {
			t.Fatalf("closed breaker refused request %d", i)
		}
		b.Report(ctx, i%2 == 0)
	}
	// ratio is exactly 0.5, breaker must be open now
	if b.Allow(ctx) {
		t.Fatal("expected breaker to refuse requests while open")
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(1, 0.5, 10*time.Millisecond)
	b.Report(ctx, false)
	if b.Allow(ctx) {
		t.Fatal("expected open breaker")
	}
	time.Sleep(20 * time.Millisecond)
	if !b.Allow(ctx) {
		t.Fatal("expected half-open probe to be allowed")
	}
	b.Report(ctx, true)
	if !b.Allow(ctx) {
		t.Fatal("expected breaker to close after successful probe")
	}
}

func TestHTTPClientReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := NewBreaker(1, 0.5, time.Minute)
	cl := HTTPClient{Client: srv.Client(), Breaker: breaker}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if _, err := cl.Do(context.Background(), req); err == nil {
		t.Fatal("expected error for 5xx response")
	}
	if breaker.Allow(context.Background()) {
		t.Fatal("expected breaker to open after the failure")
	}
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient wraps an http.Client with a bounded timeout and circuit-breaker
// gating for outbound gateway calls. Requests are never retried; a failed
// call is reported to the caller, who decides whether to re-initiate.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
}

// Do executes the request once. When the breaker is open ErrOpenCircuit is
// returned without touching the network. A 5xx response counts as a breaker
// failure and is surfaced as an error with the body already closed.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		// default to a closed breaker that never trips
		breaker = NewBreaker(1, 1, time.Second)
	}
	if !breaker.Allow(ctx) {
		return nil, ErrOpenCircuit
	}

	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		breaker.Report(ctx, false)
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		breaker.Report(ctx, false)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("resilience: upstream returned %s", resp.Status)
	}
	breaker.Report(ctx, true)
	return resp, nil
}

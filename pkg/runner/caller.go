package runner

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// APICaller is the external collaborator that carries "api" actions to
// their endpoint. The transaction engine never talks HTTP directly.
type APICaller interface {
	Call(ctx context.Context, endpoint string, params map[string]any) (any, error)
}

// HTTPCaller posts action parameters as JSON and decodes the JSON response.
// It wraps the request in resilience patterns: bounded retry with
// exponential backoff and jitter, and a circuit breaker that opens after
// repeated failures.
type HTTPCaller struct {
	client     *http.Client
	maxRetries int
	breaker    *circuitBreaker
}

// NewHTTPCaller creates a caller with a 30s client timeout, 3 retries, and
// a breaker that opens after 5 consecutive failures for 10s.
func NewHTTPCaller() *HTTPCaller {
	return &HTTPCaller{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		breaker:    newCircuitBreaker(5, 10*time.Second),
	}
}

// WithTimeout overrides the HTTP client timeout.
func (c *HTTPCaller) WithTimeout(d time.Duration) *HTTPCaller {
	c.client.Timeout = d
	return c
}

// Call executes the request with retry and breaker protection. A non-2xx
// status is an error; 5xx responses are retried.
func (c *HTTPCaller) Call(ctx context.Context, endpoint string, params map[string]any) (any, error) {
	if !c.breaker.allow() {
		return nil, fmt.Errorf("circuit breaker open for %s", endpoint)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// backoff: base * 2^(attempt-1) + jitter
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 100 * time.Millisecond
			jitter := time.Duration(0)
			if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
				jitter = time.Duration(n.Int64()) * time.Millisecond
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		result, retriable, err := c.attempt(ctx, endpoint, body)
		if err == nil {
			c.breaker.success()
			return result, nil
		}
		lastErr = err
		if !retriable {
			break
		}
	}

	c.breaker.failure()
	return nil, lastErr
}

func (c *HTTPCaller) attempt(ctx context.Context, endpoint string, body []byte) (any, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("endpoint %s returned %d", endpoint, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("endpoint %s returned %d", endpoint, resp.StatusCode)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Non-JSON bodies are passed through as text.
		return string(raw), false, nil
	}
	return decoded, false, nil
}

// circuitBreaker is a simple CLOSED/OPEN/HALF_OPEN state machine.
type circuitBreaker struct {
	mu           sync.Mutex
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
}

func newCircuitBreaker(threshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold:    threshold,
		resetTimeout: timeout,
		state:        "CLOSED",
	}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == "OPEN" {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = "HALF_OPEN"
			return true
		}
		return false
	}
	return true
}

func (cb *circuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == "HALF_OPEN" {
		cb.state = "CLOSED"
	}
	cb.failureCount = 0
}

func (cb *circuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = "OPEN"
	}
}

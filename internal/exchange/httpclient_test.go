package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/vkuzmin/whalewatch/internal/ratelimit"
)

// fastOptions removes pacing and shrinks backoff so tests run quickly.
func fastOptions() []restOption {
	return []restOption{
		withSmoother(rate.NewLimiter(rate.Inf, 1)),
		withRetries(3, time.Millisecond),
	}
}

func newTestRESTClient(t *testing.T, baseURL string, opts ...restOption) *restClient {
	t.Helper()
	return newRESTClient(baseURL, ratelimit.New(10_000), append(fastOptions(), opts...)...)
}

func TestRESTClientRetriesOnThrottle(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestRESTClient(t, srv.URL)

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.getJSON(context.Background(), "/", nil, 1, &out); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if !out.OK {
		t.Error("expected decoded response after retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRESTClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestRESTClient(t, srv.URL)

	if _, err := c.get(context.Background(), "/", nil, 1); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestRESTClientExtraRetryStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestRESTClient(t, srv.URL, withRetryStatus(http.StatusForbidden))

	if _, err := c.get(context.Background(), "/", nil, 1); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestRESTClientGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestRESTClient(t, srv.URL)

	if _, err := c.get(context.Background(), "/", nil, 1); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestRESTClientRespectsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newRESTClient(srv.URL, ratelimit.New(10_000),
		withSmoother(rate.NewLimiter(rate.Inf, 1)),
		withRetries(100, time.Minute), // would block for a long time
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.get(ctx, "/", nil, 1)
	if err == nil {
		t.Fatal("expected error when context expires mid-retry")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
}

func TestAPIErrorIsRetryable(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{418, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}
	for _, tc := range cases {
		err := &APIError{StatusCode: tc.status}
		if got := err.IsRetryable(); got != tc.retryable {
			t.Errorf("status %d: IsRetryable() = %v, want %v", tc.status, got, tc.retryable)
		}
	}
}

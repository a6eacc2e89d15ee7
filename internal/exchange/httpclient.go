package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/vkuzmin/whalewatch/internal/ratelimit"
)

// APIError represents an HTTP-level error from an exchange API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry. 418 is
// Binance's IP-ban warning status.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == 418
}

// restClient is the HTTP plumbing shared by all exchange clients: weight
// budget acquisition, inter-request smoothing, bounded retries with
// exponential backoff.
type restClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	limiter  *ratelimit.Limiter
	smoother *rate.Limiter

	maxRetries   uint64
	retryBackoff time.Duration
	// Statuses beyond APIError.IsRetryable that this exchange signals
	// throttling with (Bybit uses 403).
	extraRetry map[int]bool
}

type restOption func(*restClient)

func newRESTClient(baseURL string, limiter *ratelimit.Limiter, opts ...restOption) *restClient {
	c := &restClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:   slog.Default(),
		limiter:  limiter,
		smoother: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),

		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// withLogger sets the logger. A nil logger keeps the default.
func withLogger(logger *slog.Logger) restOption {
	return func(c *restClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// withHTTPClient sets a custom HTTP client.
func withHTTPClient(hc *http.Client) restOption {
	return func(c *restClient) {
		c.httpClient = hc
	}
}

// withRetries sets the retry count and initial backoff.
func withRetries(max uint64, initial time.Duration) restOption {
	return func(c *restClient) {
		c.maxRetries = max
		c.retryBackoff = initial
	}
}

// withRetryStatus marks additional HTTP statuses as retryable.
func withRetryStatus(statuses ...int) restOption {
	return func(c *restClient) {
		if c.extraRetry == nil {
			c.extraRetry = make(map[int]bool)
		}
		for _, s := range statuses {
			c.extraRetry[s] = true
		}
	}
}

// withSmoother replaces the inter-request pacing limiter.
func withSmoother(l *rate.Limiter) restOption {
	return func(c *restClient) {
		c.smoother = l
	}
}

func (c *restClient) retryable(err *APIError) bool {
	return err.IsRetryable() || c.extraRetry[err.StatusCode]
}

// doRequest performs a single GET and returns the body, or an APIError for
// status >= 400.
func (c *restClient) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// get acquires the endpoint weight, waits for pacing, then performs the
// request with bounded exponential-backoff retries. Network errors and
// throttling statuses are retried; anything else ends the attempt loop.
func (c *restClient) get(ctx context.Context, path string, query url.Values, weight int) ([]byte, error) {
	if err := c.limiter.Acquire(ctx, weight); err != nil {
		return nil, fmt.Errorf("acquire weight for %s: %w", path, err)
	}
	if err := c.smoother.Wait(ctx); err != nil {
		return nil, err
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = c.retryBackoff
	strategy.MaxElapsedTime = 0

	var body []byte
	operation := func() error {
		var err error
		body, err = c.doRequest(ctx, path, query)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !c.retryable(apiErr) {
			return backoff.Permanent(err)
		}

		c.logger.Debug("retrying request", "path", path, "error", err)
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(strategy, c.maxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// getJSON performs get and unmarshals the body into result.
func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, weight int, result any) error {
	body, err := c.get(ctx, path, query, weight)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response from %s: %w", path, err)
	}
	return nil
}

// statusOf extracts the HTTP status from an error chain, or 0.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

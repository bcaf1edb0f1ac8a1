package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/seer/internal/config"
)

const (
	defaultTimeout        = 15 * time.Second
	defaultRateLimit      = 5.0
	defaultBurst          = 5
	defaultInitialBackoff = 500 * time.Millisecond
	maxResponseSize       = 8 << 20

	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// Option customises an adapter.
type Option func(*options)

type options struct {
	httpClient     *http.Client
	initialBackoff time.Duration
	now            func() time.Time
	onStateChange  func(name string, from, to gobreaker.State)
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithInitialBackoff sets the first retry delay.
func WithInitialBackoff(d time.Duration) Option {
	return func(o *options) { o.initialBackoff = d }
}

// WithClock sets the clock used to compute date filters.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBreakerObserver is called on every circuit breaker state change.
func WithBreakerObserver(fn func(name string, from, to gobreaker.State)) Option {
	return func(o *options) { o.onStateChange = fn }
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// transport is the hardened HTTP path shared by the adapters: a local rate
// limiter, retries with exponential backoff for 429, 5xx and network
// errors, and a circuit breaker per provider.
type transport struct {
	name           string
	client         *http.Client
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker
	maxRetries     int
	initialBackoff time.Duration
	now            func() time.Time
}

func newTransport(name string, cfg config.ProviderConfig, opts []Option) *transport {
	o := options{now: time.Now, initialBackoff: defaultInitialBackoff}
	for _, opt := range opts {
		opt(&o)
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: timeout}
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: o.onStateChange,
	}

	return &transport{
		name:           name,
		client:         o.httpClient,
		limiter:        rate.NewLimiter(rate.Limit(limit), burst),
		breaker:        gobreaker.NewCircuitBreaker(settings),
		maxRetries:     cfg.MaxRetries,
		initialBackoff: o.initialBackoff,
		now:            o.now,
	}
}

// postJSON sends payload to url and returns the response body. Every error
// is a *ProviderError.
func (t *transport) postJSON(ctx context.Context, op, url string, headers map[string]string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, t.fail(op, fmt.Errorf("marshal request: %w", err))
	}

	attempt := func() ([]byte, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		serr := &statusError{code: resp.StatusCode, body: truncate(string(body), 200)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}

	result, err := t.breaker.Execute(func() (interface{}, error) {
		var body []byte
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = t.initialBackoff
		b.MaxElapsedTime = 0
		policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(t.maxRetries, 0))), ctx)
		err := backoff.Retry(func() error {
			var err error
			body, err = attempt()
			return err
		}, policy)
		return body, err
	})
	if err != nil {
		return nil, t.fail(op, err)
	}
	return result.([]byte), nil
}

func (t *transport) fail(op string, err error) *ProviderError {
	pe := &ProviderError{Provider: t.name, Op: op, Err: err}
	var serr *statusError
	if errors.As(err, &serr) {
		pe.StatusCode = serr.code
	}
	return pe
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

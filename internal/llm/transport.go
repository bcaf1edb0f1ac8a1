package llm

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
	"golang.org/x/time/rate"
)

const maxResponseBody = 4 << 20

// statusError is a non-200 answer. body is kept for the vendor's error
// envelope.
type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string {
	msg := e.message()
	if msg == "" {
		msg = string(bytes.TrimSpace(e.body))
	}
	return fmt.Sprintf("API error (%d): %s", e.status, msg)
}

// message reads the {"error":{"message":...}} envelope both vendors use.
func (e *statusError) message() string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(e.body, &env) != nil {
		return ""
	}
	return env.Error.Message
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

type transport struct {
	http    *http.Client
	limiter *rate.Limiter
	retries int
	backoff time.Duration
}

// post sends payload as JSON and returns the 200 body. Every attempt takes
// a limiter token.
func (t *transport) post(ctx context.Context, url string, payload any, header func(http.Header)) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var attempts int
	var out []byte
	op := func() error {
		attempts++
		if err := t.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		header(req.Header)

		resp, err := t.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("API request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			se := &statusError{status: resp.StatusCode, body: body}
			if retryableStatus(resp.StatusCode) {
				return se
			}
			return backoff.Permanent(se)
		}
		out = body
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.backoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.retries)), ctx))
	if err == nil {
		return out, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	var se *statusError
	if ctx.Err() == nil && attempts > t.retries && (!errors.As(err, &se) || retryableStatus(se.status)) {
		return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, err)
	}
	return nil, err
}

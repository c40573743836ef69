package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/onnwee/chatlens/telemetry"
)

// ErrNotFound is returned when the upstream reports that a resource does not exist.
var ErrNotFound = errors.New("not found")

// StatusError is an unexpected HTTP status from an upstream API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// maxAttempts bounds retries of transient failures (network errors, 429, 5xx).
const maxAttempts = 4

// newBackOff is swapped in tests to avoid real sleeps.
var newBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 8 * time.Second
	return b
}

// DefaultTimeout bounds a single upstream request when the caller supplies no client.
const DefaultTimeout = 30 * time.Second

var defaultClient = &http.Client{Timeout: DefaultTimeout}

// NewHTTPClient returns a client whose requests fail after timeout. Jobs run without
// cancellation, so this timeout is what turns a stalled upstream into a stage failure.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return defaultClient
}

// doJSON sends the request built by newReq and decodes a 200 response into out.
// Transient failures are retried with exponential backoff; 404 maps to ErrNotFound.
func doJSON(ctx context.Context, hc *http.Client, source string, newReq func() (*http.Request, error), out any) error {
	logger := slog.Default().With(slog.String("component", "twitchapi"), slog.String("source", source))
	op := func() (struct{}, error) {
		req, err := newReq()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := httpClient(hc).Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			telemetry.Upstream(source, "retry")
			logger.Debug("upstream request failed, retrying", slog.Any("err", err))
			return struct{}{}, err
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logger.Warn("failed to close response body", slog.Any("err", err))
			}
		}()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return struct{}{}, backoff.Permanent(ErrNotFound)
		case resp.StatusCode != http.StatusOK:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			se := &StatusError{Code: resp.StatusCode, Body: string(b)}
			if resp.StatusCode == http.StatusTooManyRequests {
				telemetry.Upstream(source, "retry")
				if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
					return struct{}{}, backoff.RetryAfter(secs)
				}
				return struct{}{}, se
			}
			if resp.StatusCode >= 500 {
				telemetry.Upstream(source, "retry")
				return struct{}{}, se
			}
			return struct{}{}, backoff.Permanent(se)
		}
		if err := decodeJSON(resp.Body, out); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("decode %s response: %w", source, err))
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(maxAttempts))
	if err != nil {
		telemetry.Upstream(source, "error")
		return err
	}
	telemetry.Upstream(source, "ok")
	return nil
}

func decodeJSON(r io.Reader, out any) error {
	if out == nil {
		_, err := io.Copy(io.Discard, r)
		return err
	}
	return json.NewDecoder(r).Decode(out)
}

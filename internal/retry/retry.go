// Package retry runs HTTP calls against transcription and post-processing
// providers with exponential backoff on transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Service, e.StatusCode, strings.TrimSpace(e.Body))
}

// Policy bounds the retries for one call.
type Policy struct {
	MaxRetries uint64
	Initial    time.Duration
}

// Default retries three times starting at one second, doubling each time.
var Default = Policy{MaxRetries: 3, Initial: time.Second}

// IsRetryable reports whether err is transient: gateway errors, rate
// limiting, or a dropped connection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "timeout")
}

// Do calls fn until it succeeds, returns a non-retryable error, the policy
// is exhausted, or ctx is done.
func Do[T any](ctx context.Context, p Policy, name string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	op := func() (T, error) {
		v, err := fn()
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("backoff", wait).Msgf("[%s] Transient error, retrying", name)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
	return backoff.RetryNotifyWithData(op, policy, notify)
}

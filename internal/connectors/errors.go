package connectors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrUpstream — апстрим ответил ошибкой, которую имеет смысл ретраить.
var ErrUpstream = errors.New("upstream error")

// ThrottleError — апстрим просит подождать; RetryAfter используется как задержка ретрая.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}

const defaultRetryAfter = time.Second

// retryAfter разбирает заголовок Retry-After (секунды или HTTP-дата)
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

// statusError переводит HTTP-статус в ошибку таксономии коннекторов.
func statusError(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return &ThrottleError{
			RetryAfter: retryAfter(resp.Header, time.Now()),
			Cause:      fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, truncate(body, 256))
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

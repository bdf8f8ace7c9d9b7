package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/sheets-client/pkg/retry"
)

// maxRetryAfter caps server-requested waits.
const maxRetryAfter = time.Hour

// parseRetryAfter reads a Retry-After value in delay-seconds or HTTP-date
// form. Missing, malformed, past or over-long values yield 0.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return min(time.Duration(seconds)*time.Second, maxRetryAfter)
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 && d <= maxRetryAfter {
			return d
		}
	}
	return 0
}

// errorBody is the remote API's error envelope.
type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// statusError builds the classified error for a non-2xx response.
func statusError(resp *http.Response, body []byte, now time.Time) *retry.APIError {
	msg := http.StatusText(resp.StatusCode)
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}

	return &retry.APIError{
		StatusCode: resp.StatusCode,
		Class:      retry.ClassifyStatus(resp.StatusCode),
		Message:    msg,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
	}
}

// tripsBreaker reports whether err indicates an unhealthy remote. Client
// errors, rate limiting and cancellation leave the breaker alone.
func tripsBreaker(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch retry.Classify(err) {
	case retry.ClassServer, retry.ClassNetwork, retry.ClassTimeout:
		return true
	default:
		return false
	}
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

type fakeNetErr struct{ timeout bool }

func (e fakeNetErr) Error() string   { return "net failure" }
func (e fakeNetErr) Timeout() bool   { return e.timeout }
func (e fakeNetErr) Temporary() bool { return false }

var _ net.Error = fakeNetErr{}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorClass
	}{
		{400, ClassBadRequest},
		{401, ClassAccessDenied},
		{403, ClassAccessDenied},
		{404, ClassNotFound},
		{408, ClassTimeout},
		{409, ClassBadRequest},
		{422, ClassMalformed},
		{429, ClassRateLimit},
		{500, ClassServer},
		{502, ClassServer},
		{503, ClassServer},
		{504, ClassServer},
		{200, ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			if got := ClassifyStatus(tt.code); got != tt.want {
				t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      ErrorClass
		retryable bool
	}{
		{"cancelled", context.Canceled, ClassCancelled, false},
		{"wrapped cancelled", fmt.Errorf("op: %w", context.Canceled), ClassCancelled, false},
		{"deadline", context.DeadlineExceeded, ClassTimeout, true},
		{"net timeout", fakeNetErr{timeout: true}, ClassTimeout, true},
		{"net failure", fakeNetErr{}, ClassNetwork, true},
		{"circuit open", fmt.Errorf("send: %w", ErrCircuitOpen), ClassCircuitOpen, true},
		{"rate limited", &APIError{StatusCode: 429, Class: ClassRateLimit}, ClassRateLimit, true},
		{"server", &APIError{StatusCode: 500, Class: ClassServer}, ClassServer, true},
		{"not found", &APIError{StatusCode: 404, Class: ClassNotFound}, ClassNotFound, false},
		{"access denied", &APIError{StatusCode: 403, Class: ClassAccessDenied}, ClassAccessDenied, false},
		{"unknown", errors.New("boom"), ClassUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &APIError{StatusCode: 500, Class: ClassServer, Message: "oops", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("APIError should unwrap to its cause")
	}
}

func TestRetryAfter(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &APIError{StatusCode: 429, Class: ClassRateLimit, RetryAfter: 3 * time.Second})

	if got := retryAfter(err); got != 3*time.Second {
		t.Errorf("retryAfter() = %v, want 3s", got)
	}
	if got := retryAfter(errors.New("plain")); got != 0 {
		t.Errorf("retryAfter() = %v, want 0", got)
	}
}

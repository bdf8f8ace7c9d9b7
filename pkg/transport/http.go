package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/sheets-client/pkg/retry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// maxResponseBytes bounds how much of a response body is read. Larger
// bodies fail with a non-retryable error instead of being truncated.
var maxResponseBytes int64 = 64 << 20

// CircuitBreakerState reports the breaker state: 0 closed, 1 half-open, 2 open.
var CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sheets_circuit_breaker_state",
	Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
}, []string{"name"})

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid transport config")

// CircuitBreakerConfig configures the breaker guarding the remote API.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int `yaml:"threshold"`

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds HTTP transport settings.
type Config struct {
	BaseURL        string               `yaml:"base_url"`
	UserAgent      string               `yaml:"user_agent"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// DefaultConfig returns settings for the public Sheets API.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://sheets.googleapis.com",
		UserAgent: "sheets-client/1.0",
		Timeout:   30 * time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:   true,
			Threshold: 5,
			Timeout:   30 * time.Second,
		},
	}
}

// Validate reports whether the config can build a transport.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: base url %q must be absolute", ErrInvalidConfig, c.BaseURL)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("%w: user agent is required", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Timeout)
	}
	if c.CircuitBreaker.Enabled && (c.CircuitBreaker.Threshold < 1 || c.CircuitBreaker.Timeout <= 0) {
		return fmt.Errorf("%w: circuit breaker needs a positive threshold and timeout", ErrInvalidConfig)
	}
	return nil
}

// HTTPTransport is a Transport over HTTP/JSON.
type HTTPTransport struct {
	cfg           Config
	baseURL       string
	httpClient    *http.Client
	tokens        TokenSource
	breaker       *gobreaker.CircuitBreaker
	onRateLimited func(until time.Time)
	logger        zerolog.Logger
	now           func() time.Time
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.httpClient = c }
}

// WithTokenSource sets the bearer token source.
func WithTokenSource(ts TokenSource) Option {
	return func(t *HTTPTransport) { t.tokens = ts }
}

// WithLogger sets the transport logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *HTTPTransport) { t.logger = logger }
}

// WithRateLimitHook registers fn to be called with the resume time whenever
// the remote answers 429 with a Retry-After.
func WithRateLimitHook(fn func(until time.Time)) Option {
	return func(t *HTTPTransport) { t.onRateLimited = fn }
}

// New creates an HTTPTransport.
func New(cfg Config, opts ...Option) (*HTTPTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &HTTPTransport{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if cfg.CircuitBreaker.Enabled {
		t.breaker = t.newBreaker(cfg.CircuitBreaker)
	}
	return t, nil
}

func (t *HTTPTransport) newBreaker(cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	name := "sheets-api"
	threshold := uint32(cfg.Threshold) //nolint:gosec // validated >= 1

	CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// Send performs req once. Failures are returned as *retry.APIError where
// the remote or the network is at fault, or as the context's error.
func (t *HTTPTransport) Send(ctx context.Context, req Request, out any) error {
	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return err
	}

	if t.breaker == nil {
		return t.do(ctx, httpReq, out)
	}

	_, err = t.breaker.Execute(func() (any, error) {
		return nil, t.do(ctx, httpReq, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &retry.APIError{
			Class:   retry.ClassCircuitOpen,
			Message: "remote short-circuited",
			Err:     retry.ErrCircuitOpen,
		}
	}
	return err
}

func (t *HTTPTransport) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", t.cfg.UserAgent)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			return nil, &retry.APIError{
				StatusCode: http.StatusUnauthorized,
				Class:      retry.ClassAccessDenied,
				Message:    "obtain access token",
				Err:        err,
			}
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return httpReq, nil
}

func (t *HTTPTransport) do(ctx context.Context, req *http.Request, out any) error {
	start := t.now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		class := retry.Classify(err)
		if class != retry.ClassTimeout {
			class = retry.ClassNetwork
		}
		t.logger.Warn().
			Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Msg("Request failed")
		return &retry.APIError{Class: class, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &retry.APIError{
			StatusCode: resp.StatusCode,
			Class:      retry.ClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}
	if int64(len(body)) > maxResponseBytes {
		return &retry.APIError{
			StatusCode: resp.StatusCode,
			Class:      retry.ClassUnknown,
			Message:    fmt.Sprintf("response too large: exceeds %d bytes", maxResponseBytes),
		}
	}

	t.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Int("status", resp.StatusCode).
		Dur("duration", t.now().Sub(start)).
		Msg("Request completed")

	if resp.StatusCode >= 400 {
		apiErr := statusError(resp, body, t.now())
		if apiErr.Class == retry.ClassRateLimit && apiErr.RetryAfter > 0 && t.onRateLimited != nil {
			t.onRateLimited(t.now().Add(apiErr.RetryAfter))
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

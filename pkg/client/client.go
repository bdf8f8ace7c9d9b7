// Package client provides the spreadsheet values client with rate limiting,
// caching, retries, request batching and chunked appends.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/sheets-client/pkg/batch"
	"github.com/Sternrassler/sheets-client/pkg/cache"
	"github.com/Sternrassler/sheets-client/pkg/chunk"
	"github.com/Sternrassler/sheets-client/pkg/ratelimit"
	"github.com/Sternrassler/sheets-client/pkg/retry"
	"github.com/Sternrassler/sheets-client/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheets_requests_total",
		Help: "Total client operations by operation and outcome",
	}, []string{"operation", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sheets_request_duration_seconds",
		Help:    "Client operation duration in seconds, including waits and retries",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})
)

var tracer = otel.Tracer("github.com/Sternrassler/sheets-client/pkg/client")

// Client is the spreadsheet values client.
//
// Every remote call waits on the rate limiter and runs under the retry
// executor. Reads go through the response cache; writes invalidate every
// cached range of the spreadsheet they touch.
type Client struct {
	config    Config
	transport transport.Transport
	limiter   *ratelimit.Limiter
	shared    *ratelimit.RedisLimiter
	cache     *cache.Cache
	executor  *retry.Executor
	optimizer *batch.Optimizer
	appender  *chunk.Processor
	logger    zerolog.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	transport transport.Transport
	tokens    transport.TokenSource
	logger    *zerolog.Logger
}

// WithTransport replaces the HTTP transport built from Config.Transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithTokenSource sets the bearer token source of the HTTP transport.
func WithTokenSource(ts transport.TokenSource) Option {
	return func(o *options) { o.tokens = ts }
}

// WithLogger sets the logger shared by the client's components.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// New creates a new client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := log.With().Str("component", "sheets-client").Logger()
	if o.logger != nil {
		logger = *o.logger
	}

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, ratelimit.WithLimiterLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var shared *ratelimit.RedisLimiter
	if cfg.SharedRateLimit {
		shared, err = ratelimit.NewRedisLimiter(cfg.Redis, cfg.RateLimitName, cfg.RateLimit, logger)
		if err != nil {
			return nil, fmt.Errorf("shared rate limiter: %w", err)
		}
	}

	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	if cfg.Redis != nil {
		cacheOpts = append(cacheOpts, cache.WithStore(cache.NewRedisStore(cfg.Redis)))
	}
	responseCache, err := cache.New(cfg.Cache, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	optimizer, err := batch.NewOptimizer(cfg.Batch, batch.WithLogger(logger))
	if err != nil {
		responseCache.Close()
		return nil, fmt.Errorf("batch optimizer: %w", err)
	}

	// Appends must land in order.
	appendCfg := cfg.Chunk
	appendCfg.Workers = 1
	appender, err := chunk.NewProcessor(appendCfg, chunk.WithLogger(logger))
	if err != nil {
		responseCache.Close()
		return nil, fmt.Errorf("chunk processor: %w", err)
	}

	tr := o.transport
	if tr == nil {
		topts := []transport.Option{
			transport.WithLogger(logger),
			transport.WithRateLimitHook(limiter.PauseUntil),
		}
		if o.tokens != nil {
			topts = append(topts, transport.WithTokenSource(o.tokens))
		}
		tr, err = transport.New(cfg.Transport, topts...)
		if err != nil {
			responseCache.Close()
			return nil, fmt.Errorf("transport: %w", err)
		}
	}

	return &Client{
		config:    cfg,
		transport: tr,
		limiter:   limiter,
		shared:    shared,
		cache:     responseCache,
		executor:  retry.NewExecutor(cfg.Retry, retry.WithLogger(logger)),
		optimizer: optimizer,
		appender:  appender,
		logger:    logger,
	}, nil
}

// Close releases the cache backend.
func (c *Client) Close() error {
	return c.cache.Close()
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// Limiter returns the in-process rate limiter.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// InvalidateSpreadsheet drops every cached range of a spreadsheet.
func (c *Client) InvalidateSpreadsheet(ctx context.Context, spreadsheetID string) error {
	ctx, finish := c.start(ctx, "invalidate", spreadsheetID)
	err := c.cache.InvalidateResource(ctx, spreadsheetID)
	finish(err)
	return err
}

// call sends one request under the retry executor, waiting on the rate
// limiter before every attempt.
func (c *Client) call(ctx context.Context, req transport.Request, out any, isRetryable retry.Classifier) error {
	return c.executor.Execute(ctx, func(ctx context.Context) error {
		if err := c.acquire(ctx); err != nil {
			return err
		}
		return c.transport.Send(ctx, req, out)
	}, isRetryable)
}

func (c *Client) acquire(ctx context.Context) error {
	if c.shared != nil {
		if err := c.shared.Acquire(ctx); err != nil {
			return err
		}
	}
	return c.limiter.Acquire(ctx)
}

// invalidate drops the spreadsheet's cached ranges after a write attempt.
// It runs on a fresh context so a cancelled write still invalidates.
func (c *Client) invalidate(spreadsheetID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.cache.InvalidateResource(ctx, spreadsheetID); err != nil {
		c.logger.Warn().
			Err(err).
			Str("spreadsheet", spreadsheetID).
			Msg("Cache invalidation after write failed")
	}
}

// start opens a span and returns a func that records the outcome.
func (c *Client) start(ctx context.Context, operation, spreadsheetID string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "sheets."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("sheets.spreadsheet_id", spreadsheetID)),
	)
	begin := time.Now()

	return ctx, func(err error) {
		status := "ok"
		if err != nil {
			status = string(retry.Classify(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		requestsTotal.WithLabelValues(operation, status).Inc()
		requestDuration.WithLabelValues(operation).Observe(time.Since(begin).Seconds())
		span.End()
	}
}

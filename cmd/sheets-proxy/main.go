// Command sheets-proxy serves spreadsheet values over HTTP through the
// cached, rate-limited sheets client.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/sheets-client/pkg/client"
	"github.com/Sternrassler/sheets-client/pkg/config"
	"github.com/Sternrassler/sheets-client/pkg/logging"
	"github.com/Sternrassler/sheets-client/pkg/metrics"
	"github.com/Sternrassler/sheets-client/pkg/retry"
	"github.com/Sternrassler/sheets-client/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const maxBodyBytes = 32 << 20

func main() {
	configPath := flag.String("config", getEnv("SHEETS_CONFIG", ""), "path to the YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		logger := logging.NewLogger("sheets-proxy")
		logger.Fatal().Err(err).Msg("Proxy failed")
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Setup(cfg.Logging)
	logger := logging.NewLogger("sheets-proxy")

	rdb := cfg.NewRedis()
	if rdb != nil {
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	clientCfg, err := cfg.ClientConfig(rdb)
	if err != nil {
		return err
	}
	sheets, err := client.New(clientCfg,
		client.WithTokenSource(transport.StaticToken(cfg.Transport.Token)),
		client.WithLogger(logging.NewLogger("sheets-client")),
	)
	if err != nil {
		return err
	}
	defer sheets.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newServer(sheets, rdb, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("base_url", cfg.Transport.BaseURL).
			Bool("redis", rdb != nil).
			Msg("Starting sheets proxy")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type server struct {
	sheets *client.Client
	redis  *redis.Client
	logger zerolog.Logger
}

func newServer(sheets *client.Client, rdb *redis.Client, logger zerolog.Logger) *server {
	return &server{sheets: sheets, redis: rdb, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /v1/spreadsheets/{id}/values", s.batchReadHandler)
	mux.HandleFunc("POST /v1/spreadsheets/{id}/values", s.batchWriteHandler)
	mux.HandleFunc("GET /v1/spreadsheets/{id}/values/{range}", s.readHandler)
	mux.HandleFunc("PUT /v1/spreadsheets/{id}/values/{range}", s.writeHandler)
	mux.HandleFunc("DELETE /v1/spreadsheets/{id}/values/{range}", s.clearHandler)
	mux.HandleFunc("POST /v1/spreadsheets/{id}/values/{range}/append", s.appendHandler)
	mux.HandleFunc("POST /v1/spreadsheets/{id}/invalidate", s.invalidateHandler)
	mux.HandleFunc("GET /v1/ratelimit", s.rateLimitHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Redis not ready")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func readOptions(r *http.Request) []client.ReadOption {
	var opts []client.ReadOption
	if d := r.URL.Query().Get("majorDimension"); d != "" {
		opts = append(opts, client.WithMajorDimension(d))
	}
	if v := r.URL.Query().Get("valueRenderOption"); v != "" {
		opts = append(opts, client.WithValueRender(v))
	}
	return opts
}

func (s *server) readHandler(w http.ResponseWriter, r *http.Request) {
	vr, err := s.sheets.ReadRange(r.Context(), r.PathValue("id"), r.PathValue("range"), readOptions(r)...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vr)
}

func (s *server) batchReadHandler(w http.ResponseWriter, r *http.Request) {
	ranges := r.URL.Query()["ranges"]
	if len(ranges) == 0 {
		http.Error(w, "at least one ranges parameter is required", http.StatusBadRequest)
		return
	}

	vrs, err := s.sheets.BatchRead(r.Context(), r.PathValue("id"), ranges, readOptions(r)...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"spreadsheetId": r.PathValue("id"),
		"valueRanges":   vrs,
	})
}

func (s *server) writeHandler(w http.ResponseWriter, r *http.Request) {
	var body client.ValueRange
	if !s.decode(w, r, &body) {
		return
	}

	res, err := s.sheets.WriteRange(r.Context(), r.PathValue("id"), r.PathValue("range"), body.Values)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) batchWriteHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data []client.ValueRange `json:"data"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	res, err := s.sheets.BatchWrite(r.Context(), r.PathValue("id"), body.Data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) appendHandler(w http.ResponseWriter, r *http.Request) {
	var body client.ValueRange
	if !s.decode(w, r, &body) {
		return
	}

	res, err := s.sheets.AppendRows(r.Context(), r.PathValue("id"), r.PathValue("range"), body.Values)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) clearHandler(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.sheets.ClearRange(r.Context(), r.PathValue("id"), r.PathValue("range"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"clearedRange": cleared})
}

func (s *server) invalidateHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.sheets.InvalidateSpreadsheet(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) rateLimitHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sheets.Limiter().State())
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

// writeError reports a failed operation with the status matching its class.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	class := retry.Classify(err)
	status := statusFor(class)

	event := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("error_class", string(class)).
		Int("status", status).
		Msg("Request failed")

	var apiErr *retry.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(apiErr.RetryAfter.Seconds()))))
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"class": string(class),
	})
}

func statusFor(class retry.ErrorClass) int {
	switch class {
	case retry.ClassNotFound:
		return http.StatusNotFound
	case retry.ClassAccessDenied:
		return http.StatusForbidden
	case retry.ClassBadRequest, retry.ClassMalformed:
		return http.StatusBadRequest
	case retry.ClassRateLimit:
		return http.StatusTooManyRequests
	case retry.ClassCircuitOpen:
		return http.StatusServiceUnavailable
	case retry.ClassTimeout, retry.ClassCancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

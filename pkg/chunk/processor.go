package chunk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidConfig is returned by NewProcessor for unusable settings.
var ErrInvalidConfig = errors.New("invalid chunk config")

var chunksProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sheets_chunks_processed_total",
	Help: "Total number of dataset chunks processed",
})

// Config holds chunking thresholds.
type Config struct {
	// MaxRowsInMemory is the row count above which a dataset is chunked.
	MaxRowsInMemory int `yaml:"max_rows_in_memory"`

	// MaxColumnsInMemory is the column count above which a dataset is chunked.
	MaxColumnsInMemory int `yaml:"max_columns_in_memory"`

	// LargeDatasetCellThreshold is the cell count above which a dataset is
	// chunked. It also caps the cells per chunk.
	LargeDatasetCellThreshold int `yaml:"large_dataset_cell_threshold"`

	// UseStreaming produces chunks lazily instead of splitting up front.
	// Only applies to sequential processing.
	UseStreaming bool `yaml:"use_streaming"`

	// MaxRowsPerChunk bounds the rows of one chunk.
	MaxRowsPerChunk int `yaml:"max_rows_per_chunk"`

	// Workers bounds concurrent chunk processing. 1 processes sequentially.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns safe defaults for the public Sheets API
// (10 MB request payloads).
func DefaultConfig() Config {
	return Config{
		MaxRowsInMemory:           10000,
		MaxColumnsInMemory:        500,
		LargeDatasetCellThreshold: 100000,
		UseStreaming:              false,
		MaxRowsPerChunk:           1000,
		Workers:                   1,
	}
}

// Validate reports whether the config can build a processor.
func (c Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"max rows in memory", c.MaxRowsInMemory},
		{"max columns in memory", c.MaxColumnsInMemory},
		{"large dataset cell threshold", c.LargeDatasetCellThreshold},
		{"max rows per chunk", c.MaxRowsPerChunk},
		{"workers", c.Workers},
	}
	for _, chk := range checks {
		if chk.value < 1 {
			return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidConfig, chk.name, chk.value)
		}
	}
	return nil
}

// Processor decides when and how large datasets are processed in slices.
type Processor struct {
	cfg    Config
	logger zerolog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor's logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor validates cfg and creates a Processor.
func NewProcessor(cfg Config, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the processor's configuration.
func (p *Processor) Config() Config { return p.cfg }

// ShouldChunk reports whether a rows x cols dataset exceeds any threshold.
func (p *Processor) ShouldChunk(rows, cols int) bool {
	return rows > p.cfg.MaxRowsInMemory ||
		cols > p.cfg.MaxColumnsInMemory ||
		rows*cols > p.cfg.LargeDatasetCellThreshold
}

// RowsPerChunk returns how many rows of width cols fit in one chunk without
// exceeding MaxRowsPerChunk or the cell threshold. Always at least 1. For
// ragged data the actual chunks may hold more rows, since they are bounded by
// the cells each row really has.
func (p *Processor) RowsPerChunk(cols int) int {
	n := p.cfg.MaxRowsPerChunk
	if cols > 0 {
		if byCells := p.cfg.LargeDatasetCellThreshold / cols; byCells < n {
			n = byCells
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Process applies fn to data, chunk by chunk if ShouldChunk says so, and
// returns one result per chunk in chunk order. With Workers > 1 chunks run
// concurrently and the first error cancels the rest.
func Process[T, R any](ctx context.Context, p *Processor, data [][]T, fn func(context.Context, Chunk[T]) (R, error)) ([]R, error) {
	if len(data) == 0 {
		return nil, nil
	}

	cols := width(data)
	if !p.ShouldChunk(len(data), cols) {
		r, err := fn(ctx, Chunk[T]{Index: 0, StartRow: 0, Rows: data})
		if err != nil {
			return nil, err
		}
		chunksProcessed.Inc()
		return []R{r}, nil
	}

	start := time.Now()
	rowsPerChunk := p.RowsPerChunk(cols)

	p.logger.Info().
		Int("rows", len(data)).
		Int("columns", cols).
		Int("rows_per_chunk", rowsPerChunk).
		Int("workers", p.cfg.Workers).
		Msg("Processing large dataset in chunks")

	var (
		results []R
		err     error
	)
	switch {
	case p.cfg.Workers > 1:
		results, err = processConcurrent(ctx, p.logger, p.cfg.Workers, splitFor(p, data), fn)
	case p.cfg.UseStreaming:
		results, err = processStream(ctx, p, data, fn)
	default:
		results, err = processSequential(ctx, splitFor(p, data), fn)
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Int("chunks", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Chunked processing complete")

	return results, nil
}

func processSequential[T, R any](ctx context.Context, chunks []Chunk[T], fn func(context.Context, Chunk[T]) (R, error)) ([]R, error) {
	results := make([]R, 0, len(chunks))
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := fn(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("chunk %d (rows %d-%d): %w", c.Index, c.StartRow, c.StartRow+len(c.Rows)-1, err)
		}
		chunksProcessed.Inc()
		results = append(results, r)
	}
	return results, nil
}

// processStream cuts the same chunks as splitFor, lazily.
func processStream[T, R any](ctx context.Context, p *Processor, data [][]T, fn func(context.Context, Chunk[T]) (R, error)) ([]R, error) {
	// Cancelling on return stops the producer if fn fails midway.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var results []R
	for c := range StreamByCells(sctx, data, p.cfg.MaxRowsPerChunk, p.cfg.LargeDatasetCellThreshold) {
		r, err := fn(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("chunk %d (rows %d-%d): %w", c.Index, c.StartRow, c.StartRow+len(c.Rows)-1, err)
		}
		chunksProcessed.Inc()
		results = append(results, r)
	}
	// The stream stops early on cancellation.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func processConcurrent[T, R any](ctx context.Context, logger zerolog.Logger, workers int, chunks []Chunk[T], fn func(context.Context, Chunk[T]) (R, error)) ([]R, error) {
	results := make([]R, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, c)
			if err != nil {
				logger.Warn().
					Err(err).
					Int("chunk", c.Index).
					Msg("Chunk processing failed")
				return fmt.Errorf("chunk %d (rows %d-%d): %w", c.Index, c.StartRow, c.StartRow+len(c.Rows)-1, err)
			}
			results[c.Index] = r
			chunksProcessed.Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// splitFor bounds chunks by MaxRowsPerChunk and by the actual cell count.
func splitFor[T any](p *Processor, data [][]T) []Chunk[T] {
	return SplitByCells(data, p.cfg.MaxRowsPerChunk, p.cfg.LargeDatasetCellThreshold)
}

// width returns the longest row length of a possibly ragged dataset.
func width[T any](data [][]T) int {
	w := 0
	for _, row := range data {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

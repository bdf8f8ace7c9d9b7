package batch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig is returned by NewOptimizer for unusable settings.
var ErrInvalidConfig = errors.New("invalid batch config")

var batchesPlanned = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sheets_batch_planned_total",
	Help: "Total number of batches produced by the planner",
}, []string{"kind"})

// Config holds batch planning configuration.
type Config struct {
	// MaxBatchSize is the most requests one remote call may carry.
	MaxBatchSize int `yaml:"max_batch_size"`

	// MinBatchSize is the size below which a trailing batch is rebalanced
	// with its predecessor when MergeAdjacent is set.
	MinBatchSize int `yaml:"min_batch_size"`

	// MergeAdjacent enables rebalancing of undersized batches.
	MergeAdjacent bool `yaml:"merge_adjacent"`

	// SortRanges groups requests of the same group together, ordered by
	// each group's first appearance. The sort is stable.
	SortRanges bool `yaml:"sort_ranges"`
}

// DefaultConfig returns batches of at most 100 requests with rebalancing of
// batches under 5.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  100,
		MinBatchSize:  5,
		MergeAdjacent: true,
		SortRanges:    false,
	}
}

// Validate reports whether the config can build an optimizer.
func (c Config) Validate() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("%w: max batch size must be at least 1, got %d", ErrInvalidConfig, c.MaxBatchSize)
	}
	if c.MinBatchSize < 0 {
		return fmt.Errorf("%w: min batch size must not be negative, got %d", ErrInvalidConfig, c.MinBatchSize)
	}
	if c.MinBatchSize > c.MaxBatchSize {
		return fmt.Errorf("%w: min batch size %d exceeds max batch size %d",
			ErrInvalidConfig, c.MinBatchSize, c.MaxBatchSize)
	}
	return nil
}

// GroupKeyFunc derives the batching key of a request. The default uses Request.Group.
type GroupKeyFunc func(Request) string

// Optimizer plans batches. It holds no mutable state and is safe for concurrent use.
type Optimizer struct {
	cfg      Config
	groupKey GroupKeyFunc
	logger   zerolog.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithGroupKey overrides how requests are grouped.
func WithGroupKey(fn GroupKeyFunc) Option {
	return func(o *Optimizer) {
		if fn != nil {
			o.groupKey = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Optimizer) { o.logger = logger }
}

// NewOptimizer validates cfg and creates an Optimizer.
func NewOptimizer(cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Optimizer{
		cfg:      cfg,
		groupKey: func(r Request) string { return r.Group },
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the optimizer's configuration.
func (o *Optimizer) Config() Config { return o.cfg }

// Plan partitions requests into batches.
//
// Every request appears in exactly one batch, unmodified. A batch only holds
// requests of one group and one kind, and never more than MaxBatchSize of them.
// Requests of the same group keep their relative order. Plan is deterministic.
func (o *Optimizer) Plan(requests []Request) []Batch {
	if len(requests) == 0 {
		return nil
	}

	ordered := make([]Request, len(requests))
	copy(ordered, requests)
	if o.cfg.SortRanges {
		o.sortByGroup(ordered)
	}

	var batches []Batch
	for _, run := range o.runs(ordered) {
		batches = append(batches, o.split(run)...)
	}

	for _, b := range batches {
		batchesPlanned.WithLabelValues(b.Kind.String()).Inc()
	}
	o.logger.Debug().
		Int("requests", len(requests)).
		Int("batches", len(batches)).
		Bool("sorted", o.cfg.SortRanges).
		Msg("Batch plan created")

	return batches
}

// sortByGroup stable-sorts requests by the first position their group occurs at.
func (o *Optimizer) sortByGroup(reqs []Request) {
	first := make(map[string]int)
	for i, r := range reqs {
		g := o.groupKey(r)
		if _, ok := first[g]; !ok {
			first[g] = i
		}
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		return first[o.groupKey(reqs[i])] < first[o.groupKey(reqs[j])]
	})
}

// runs cuts reqs into maximal consecutive stretches of one group and kind.
func (o *Optimizer) runs(reqs []Request) []Batch {
	var out []Batch
	for _, r := range reqs {
		g := o.groupKey(r)
		if n := len(out); n > 0 && out[n-1].Group == g && out[n-1].Kind == r.Kind {
			out[n-1].Requests = append(out[n-1].Requests, r)
			continue
		}
		out = append(out, Batch{Group: g, Kind: r.Kind, Requests: []Request{r}})
	}
	return out
}

// split bounds a run by MaxBatchSize. With MergeAdjacent, an undersized tail
// is evened out with the full batch before it; since the two together hold at
// most 2*MaxBatchSize requests, both halves still fit.
func (o *Optimizer) split(run Batch) []Batch {
	limit := o.cfg.MaxBatchSize
	reqs := run.Requests

	var out []Batch
	for start := 0; start < len(reqs); start += limit {
		end := start + limit
		if end > len(reqs) {
			end = len(reqs)
		}
		out = append(out, Batch{Group: run.Group, Kind: run.Kind, Requests: reqs[start:end:end]})
	}

	n := len(out)
	if !o.cfg.MergeAdjacent || n < 2 || out[n-1].Len() >= o.cfg.MinBatchSize {
		return out
	}

	prev, last := out[n-2], out[n-1]
	combined := make([]Request, 0, prev.Len()+last.Len())
	combined = append(combined, prev.Requests...)
	combined = append(combined, last.Requests...)

	half := (len(combined) + 1) / 2
	out[n-2].Requests = combined[:half:half]
	out[n-1].Requests = combined[half:]
	return out
}

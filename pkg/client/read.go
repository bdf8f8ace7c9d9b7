package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Sternrassler/sheets-client/pkg/batch"
	"github.com/Sternrassler/sheets-client/pkg/cache"
	"github.com/Sternrassler/sheets-client/pkg/transport"
)

// ReadRange returns the values of one range. Concurrent misses for the same
// range share a single remote call.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, rng string, opts ...ReadOption) (*ValueRange, error) {
	ctx, finish := c.start(ctx, "read", spreadsheetID)
	vr, err := c.readRange(ctx, spreadsheetID, rng, newReadOptions(opts))
	finish(err)
	return vr, err
}

func (c *Client) readRange(ctx context.Context, spreadsheetID, rng string, o readOptions) (*ValueRange, error) {
	key := cache.Key{Resource: spreadsheetID, Range: rng, Options: o.cacheOptions()}
	req := transport.Request{
		Method: http.MethodGet,
		Path:   valuesPath(spreadsheetID, rng, ""),
		Query:  o.query(),
	}

	raw, hit, err := c.cache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		var body json.RawMessage
		if err := c.call(ctx, req, &body, nil); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	var vr ValueRange
	if err := json.Unmarshal(raw, &vr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", rng, err)
	}

	c.logger.Debug().
		Str("spreadsheet", spreadsheetID).
		Str("range", rng).
		Bool("cached", hit).
		Msg("Range read")
	return &vr, nil
}

// BatchRead returns the values of several ranges in input order. Cached
// ranges are served locally; the rest are fetched in as few batched calls
// as the batch limits allow, and each fetched range is cached.
func (c *Client) BatchRead(ctx context.Context, spreadsheetID string, ranges []string, opts ...ReadOption) ([]ValueRange, error) {
	ctx, finish := c.start(ctx, "batch_read", spreadsheetID)
	out, err := c.batchRead(ctx, spreadsheetID, ranges, newReadOptions(opts))
	finish(err)
	return out, err
}

func (c *Client) batchRead(ctx context.Context, spreadsheetID string, ranges []string, o readOptions) ([]ValueRange, error) {
	keyOf := func(rng string) cache.Key {
		return cache.Key{Resource: spreadsheetID, Range: rng, Options: o.cacheOptions()}
	}

	// Duplicate ranges are looked up and fetched once.
	found := make(map[string]ValueRange, len(ranges))
	seen := make(map[string]bool, len(ranges))
	var misses []batch.Request
	for _, rng := range ranges {
		if seen[rng] {
			continue
		}
		seen[rng] = true

		if raw, ok := c.cache.Get(ctx, keyOf(rng)); ok {
			var vr ValueRange
			if err := json.Unmarshal(raw, &vr); err == nil {
				found[rng] = vr
				continue
			}
		}
		misses = append(misses, batch.Request{Target: rng, Group: spreadsheetID, Kind: batch.Read})
	}

	gen := c.cache.Generation(spreadsheetID)
	for _, b := range c.optimizer.Plan(misses) {
		targets := b.Targets()
		q := o.query()
		q["ranges"] = targets

		var resp batchGetResponse
		err := c.call(ctx, transport.Request{
			Method: http.MethodGet,
			Path:   spreadsheetPath(spreadsheetID) + "/values:batchGet",
			Query:  q,
		}, &resp, nil)
		if err != nil {
			return nil, fmt.Errorf("batch read of %d ranges: %w", len(targets), err)
		}
		if len(resp.ValueRanges) != len(targets) {
			return nil, fmt.Errorf("batch read: requested %d ranges, got %d", len(targets), len(resp.ValueRanges))
		}

		for j, rng := range targets {
			vr := resp.ValueRanges[j]
			found[rng] = vr
			if raw, err := json.Marshal(vr); err == nil {
				c.cache.PutIfCurrent(ctx, keyOf(rng), raw, gen)
			}
		}
	}

	results := make([]ValueRange, len(ranges))
	for i, rng := range ranges {
		results[i] = found[rng]
	}

	c.logger.Debug().
		Str("spreadsheet", spreadsheetID).
		Int("ranges", len(ranges)).
		Int("fetched", len(misses)).
		Msg("Batch read complete")
	return results, nil
}

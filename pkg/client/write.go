package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sternrassler/sheets-client/pkg/batch"
	"github.com/Sternrassler/sheets-client/pkg/chunk"
	"github.com/Sternrassler/sheets-client/pkg/retry"
	"github.com/Sternrassler/sheets-client/pkg/transport"
)

// WriteRange overwrites one range. The spreadsheet's cached ranges are
// invalidated whether or not the write succeeds.
func (c *Client) WriteRange(ctx context.Context, spreadsheetID, rng string, values [][]any) (*UpdateResult, error) {
	ctx, finish := c.start(ctx, "write", spreadsheetID)
	defer c.invalidate(spreadsheetID)

	var res UpdateResult
	err := c.call(ctx, transport.Request{
		Method: http.MethodPut,
		Path:   valuesPath(spreadsheetID, rng, ""),
		Query:  c.inputQuery(),
		Body:   ValueRange{Range: rng, MajorDimension: "ROWS", Values: values},
	}, &res, nil)
	finish(err)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", rng, err)
	}
	return &res, nil
}

// BatchWrite overwrites several ranges using as few calls as the batch
// limits allow. A failed batch stops the write; earlier batches stay applied.
func (c *Client) BatchWrite(ctx context.Context, spreadsheetID string, data []ValueRange) (*BatchWriteResult, error) {
	ctx, finish := c.start(ctx, "batch_write", spreadsheetID)
	defer c.invalidate(spreadsheetID)

	res, err := c.batchWrite(ctx, spreadsheetID, data)
	finish(err)
	return res, err
}

func (c *Client) batchWrite(ctx context.Context, spreadsheetID string, data []ValueRange) (*BatchWriteResult, error) {
	reqs := make([]batch.Request, len(data))
	for i, vr := range data {
		reqs[i] = batch.Request{Target: vr.Range, Group: spreadsheetID, Kind: batch.Write, Payload: vr}
	}

	out := &BatchWriteResult{SpreadsheetID: spreadsheetID}
	for _, b := range c.optimizer.Plan(reqs) {
		body := batchUpdateRequest{ValueInputOption: c.config.ValueInputOption}
		for _, r := range b.Requests {
			vr := r.Payload.(ValueRange)
			if vr.MajorDimension == "" {
				vr.MajorDimension = "ROWS"
			}
			body.Data = append(body.Data, vr)
		}

		var resp batchUpdateResponse
		err := c.call(ctx, transport.Request{
			Method: http.MethodPost,
			Path:   spreadsheetPath(spreadsheetID) + "/values:batchUpdate",
			Body:   body,
		}, &resp, nil)
		if err != nil {
			return out, fmt.Errorf("batch write of %d ranges: %w", b.Len(), err)
		}

		out.TotalUpdatedCells += resp.TotalUpdatedCells
		out.Responses = append(out.Responses, resp.Responses...)
	}
	return out, nil
}

// AppendRows appends rows after the table found in rng. Large inputs are
// sent as consecutive chunks in order; a failed chunk stops the append and
// earlier chunks stay applied.
//
// Appends are not idempotent, so only failures the remote rejected before
// applying (rate limiting, an open circuit) are retried.
func (c *Client) AppendRows(ctx context.Context, spreadsheetID, rng string, rows [][]any) (*AppendResult, error) {
	ctx, finish := c.start(ctx, "append", spreadsheetID)
	defer c.invalidate(spreadsheetID)

	out := &AppendResult{SpreadsheetID: spreadsheetID}
	q := c.inputQuery()
	q.Set("insertDataOption", "INSERT_ROWS")

	updates, err := chunk.Process(ctx, c.appender, rows, func(ctx context.Context, ch chunk.Chunk[any]) (UpdateResult, error) {
		var resp appendResponse
		err := c.call(ctx, transport.Request{
			Method: http.MethodPost,
			Path:   valuesPath(spreadsheetID, rng, ":append"),
			Query:  q,
			Body:   ValueRange{Range: rng, MajorDimension: "ROWS", Values: ch.Rows},
		}, &resp, appendRetryable)
		if err != nil {
			return UpdateResult{}, err
		}

		c.logger.Debug().
			Str("spreadsheet", spreadsheetID).
			Int("chunk", ch.Index).
			Int("rows", len(ch.Rows)).
			Int("cells", countCells(ch.Rows)).
			Msg("Appended chunk")
		return resp.Updates, nil
	})
	finish(err)
	if err != nil {
		return nil, fmt.Errorf("append to %s: %w", rng, err)
	}

	for _, u := range updates {
		out.UpdatedRows += u.UpdatedRows
		out.UpdatedCells += u.UpdatedCells
	}
	out.Updates = updates
	return out, nil
}

// ClearRange removes the values of one range and returns the cleared range.
func (c *Client) ClearRange(ctx context.Context, spreadsheetID, rng string) (string, error) {
	ctx, finish := c.start(ctx, "clear", spreadsheetID)
	defer c.invalidate(spreadsheetID)

	var resp clearResponse
	err := c.call(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   valuesPath(spreadsheetID, rng, ":clear"),
		Body:   struct{}{},
	}, &resp, nil)
	finish(err)
	if err != nil {
		return "", fmt.Errorf("clear %s: %w", rng, err)
	}
	return resp.ClearedRange, nil
}

func (c *Client) inputQuery() url.Values {
	return url.Values{"valueInputOption": {c.config.ValueInputOption}}
}

// appendRetryable retries only failures that guarantee nothing was applied.
func appendRetryable(err error) bool {
	switch retry.Classify(err) {
	case retry.ClassRateLimit, retry.ClassCircuitOpen:
		return true
	default:
		return false
	}
}

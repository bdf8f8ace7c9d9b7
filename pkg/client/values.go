package client

import (
	"net/url"
	"strings"
)

// ValueRange is a rectangular block of cell values.
type ValueRange struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values,omitempty"`
}

// UpdateResult summarises one written range.
type UpdateResult struct {
	SpreadsheetID  string `json:"spreadsheetId"`
	UpdatedRange   string `json:"updatedRange"`
	UpdatedRows    int    `json:"updatedRows"`
	UpdatedColumns int    `json:"updatedColumns"`
	UpdatedCells   int    `json:"updatedCells"`
}

// BatchWriteResult summarises a multi-range write.
type BatchWriteResult struct {
	SpreadsheetID     string
	TotalUpdatedCells int
	Responses         []UpdateResult
}

// AppendResult summarises an append, which may span several requests.
type AppendResult struct {
	SpreadsheetID string
	UpdatedRows   int
	UpdatedCells  int
	Updates       []UpdateResult
}

type batchGetResponse struct {
	SpreadsheetID string       `json:"spreadsheetId"`
	ValueRanges   []ValueRange `json:"valueRanges"`
}

type batchUpdateRequest struct {
	ValueInputOption string       `json:"valueInputOption"`
	Data             []ValueRange `json:"data"`
}

type batchUpdateResponse struct {
	SpreadsheetID     string         `json:"spreadsheetId"`
	TotalUpdatedCells int            `json:"totalUpdatedCells"`
	Responses         []UpdateResult `json:"responses"`
}

type appendResponse struct {
	SpreadsheetID string       `json:"spreadsheetId"`
	Updates       UpdateResult `json:"updates"`
}

type clearResponse struct {
	SpreadsheetID string `json:"spreadsheetId"`
	ClearedRange  string `json:"clearedRange"`
}

// ReadOption customises a read.
type ReadOption func(*readOptions)

type readOptions struct {
	majorDimension string
	valueRender    string
}

// WithMajorDimension reads by "ROWS" (default) or "COLUMNS".
func WithMajorDimension(d string) ReadOption {
	return func(o *readOptions) { o.majorDimension = strings.ToUpper(d) }
}

// WithValueRender selects "FORMATTED_VALUE" (default), "UNFORMATTED_VALUE" or "FORMULA".
func WithValueRender(r string) ReadOption {
	return func(o *readOptions) { o.valueRender = strings.ToUpper(r) }
}

func newReadOptions(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o readOptions) query() url.Values {
	q := url.Values{}
	if o.majorDimension != "" {
		q.Set("majorDimension", o.majorDimension)
	}
	if o.valueRender != "" {
		q.Set("valueRenderOption", o.valueRender)
	}
	return q
}

// cacheOptions keeps differently rendered reads of one range apart.
func (o readOptions) cacheOptions() map[string]string {
	if o.majorDimension == "" && o.valueRender == "" {
		return nil
	}
	return map[string]string{
		"dim":    o.majorDimension,
		"render": o.valueRender,
	}
}

func spreadsheetPath(spreadsheetID string) string {
	return "/v4/spreadsheets/" + url.PathEscape(spreadsheetID)
}

func valuesPath(spreadsheetID, rng, suffix string) string {
	return spreadsheetPath(spreadsheetID) + "/values/" + url.PathEscape(rng) + suffix
}

func countCells(values [][]any) int {
	n := 0
	for _, row := range values {
		n += len(row)
	}
	return n
}

// Package testutil provides testing utilities for the sheets client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// ValueRange mirrors the remote API's value range object.
type ValueRange struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values,omitempty"`
}

// MockSheets is an in-memory fake of the spreadsheet values API. Ranges are
// opaque keys: a write to "A1:B2" is only visible to reads of "A1:B2".
type MockSheets struct {
	server *httptest.Server

	mu       sync.RWMutex
	data     map[string]map[string][][]any
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	failures []MockResponse

	// Tracking
	RequestCount      int
	RequestsByPath    map[string]int
	LastRequestHeader http.Header
}

// NewMockSheets starts a mock server.
func NewMockSheets() *MockSheets {
	mock := &MockSheets{
		data:           make(map[string]map[string][][]any),
		handlers:       make(map[string]func(w http.ResponseWriter, r *http.Request)),
		RequestsByPath: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.RequestsByPath[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()

		var failure *MockResponse
		if len(mock.failures) > 0 {
			f := mock.failures[0]
			mock.failures = mock.failures[1:]
			failure = &f
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		switch {
		case failure != nil:
			writeResponse(w, *failure)
		case exists:
			handler(w, r)
		default:
			mock.route(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSheets) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSheets) Close() {
	m.server.Close()
}

// Reset clears tracking counters and pending failures. Stored values stay.
func (m *MockSheets) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.RequestsByPath = make(map[string]int)
	m.LastRequestHeader = nil
	m.failures = nil
}

// SetHandler overrides the handler for an unescaped request path.
func (m *MockSheets) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for an unescaped request path.
func (m *MockSheets) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, resp)
	})
}

// FailNext makes the next len(resps) requests, on any path, return resps in order.
func (m *MockSheets) FailNext(resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, resps...)
}

// SetValues seeds the values of a range.
func (m *MockSheets) SetValues(spreadsheetID, rng string, values [][]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheet(spreadsheetID)[rng] = values
}

// Values returns the stored values of a range.
func (m *MockSheets) Values(spreadsheetID, rng string) [][]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[spreadsheetID][rng]
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSheets) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made to an unescaped path.
func (m *MockSheets) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestsByPath[path]
}

// GetLastHeader returns the headers of the most recent request.
func (m *MockSheets) GetLastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// sheet must be called with mu held for writing.
func (m *MockSheets) sheet(id string) map[string][][]any {
	s, ok := m.data[id]
	if !ok {
		s = make(map[string][][]any)
		m.data[id] = s
	}
	return s
}

// route dispatches /v4/spreadsheets/{id}/values... requests.
func (m *MockSheets) route(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.EscapedPath(), "/v4/spreadsheets/")
	if !ok {
		writeError(w, http.StatusNotFound, "unknown path")
		return
	}

	segs := strings.Split(rest, "/")
	for i, s := range segs {
		u, err := url.PathUnescape(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad path escape")
			return
		}
		segs[i] = u
	}

	switch {
	case len(segs) == 2 && segs[1] == "values:batchGet" && r.Method == http.MethodGet:
		m.batchGet(w, r, segs[0])
	case len(segs) == 2 && segs[1] == "values:batchUpdate" && r.Method == http.MethodPost:
		m.batchUpdate(w, r, segs[0])
	case len(segs) == 3 && segs[1] == "values":
		m.values(w, r, segs[0], segs[2])
	default:
		writeError(w, http.StatusNotFound, "unknown path")
	}
}

func (m *MockSheets) values(w http.ResponseWriter, r *http.Request, id, rng string) {
	switch {
	case r.Method == http.MethodGet:
		m.mu.RLock()
		vals := m.data[id][rng]
		m.mu.RUnlock()
		writeJSON(w, ValueRange{Range: rng, MajorDimension: "ROWS", Values: vals})

	case r.Method == http.MethodPut:
		var vr ValueRange
		if !decode(w, r, &vr) {
			return
		}
		m.SetValues(id, rng, vr.Values)
		writeJSON(w, updateResult(id, rng, vr.Values))

	case r.Method == http.MethodPost && strings.HasSuffix(rng, ":append"):
		rng = strings.TrimSuffix(rng, ":append")
		var vr ValueRange
		if !decode(w, r, &vr) {
			return
		}
		m.mu.Lock()
		s := m.sheet(id)
		s[rng] = append(s[rng], vr.Values...)
		m.mu.Unlock()
		writeJSON(w, map[string]any{
			"spreadsheetId": id,
			"updates":       updateResult(id, rng, vr.Values),
		})

	case r.Method == http.MethodPost && strings.HasSuffix(rng, ":clear"):
		rng = strings.TrimSuffix(rng, ":clear")
		m.mu.Lock()
		delete(m.sheet(id), rng)
		m.mu.Unlock()
		writeJSON(w, map[string]any{"spreadsheetId": id, "clearedRange": rng})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (m *MockSheets) batchGet(w http.ResponseWriter, r *http.Request, id string) {
	ranges := r.URL.Query()["ranges"]
	if len(ranges) == 0 {
		writeError(w, http.StatusBadRequest, "ranges is required")
		return
	}

	out := make([]ValueRange, len(ranges))
	m.mu.RLock()
	for i, rng := range ranges {
		out[i] = ValueRange{Range: rng, MajorDimension: "ROWS", Values: m.data[id][rng]}
	}
	m.mu.RUnlock()

	writeJSON(w, map[string]any{"spreadsheetId": id, "valueRanges": out})
}

func (m *MockSheets) batchUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Data []ValueRange `json:"data"`
	}
	if !decode(w, r, &req) {
		return
	}

	responses := make([]map[string]any, len(req.Data))
	cells := 0
	m.mu.Lock()
	s := m.sheet(id)
	for i, vr := range req.Data {
		s[vr.Range] = vr.Values
		responses[i] = updateResult(id, vr.Range, vr.Values)
		cells += countCells(vr.Values)
	}
	m.mu.Unlock()

	writeJSON(w, map[string]any{
		"spreadsheetId":     id,
		"totalUpdatedCells": cells,
		"responses":         responses,
	})
}

func updateResult(id, rng string, values [][]any) map[string]any {
	cols := 0
	for _, row := range values {
		cols = max(cols, len(row))
	}
	return map[string]any{
		"spreadsheetId":  id,
		"updatedRange":   rng,
		"updatedRows":    len(values),
		"updatedColumns": cols,
		"updatedCells":   countCells(values),
	}
}

func countCells(values [][]any) int {
	n := 0
	for _, row := range values {
		n += len(row)
	}
	return n
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeResponse(w, NewErrorResponse(status, msg))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// NewErrorResponse creates an error response in the remote API's envelope.
func NewErrorResponse(status int, msg string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"status":  http.StatusText(status),
		},
	})
	return MockResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 response with a Retry-After in seconds.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := NewErrorResponse(http.StatusTooManyRequests, "Quota exceeded")
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewErrorResponse(http.StatusInternalServerError, "Internal error encountered.")
}

// NewUnavailableResponse creates a 503 Service Unavailable response.
func NewUnavailableResponse() MockResponse {
	return NewErrorResponse(http.StatusServiceUnavailable, "The service is currently unavailable.")
}

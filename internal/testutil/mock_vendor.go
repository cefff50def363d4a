// Package testutil provides a scriptable vendor API server for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock vendor response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockVendor is a configurable mock vendor API server for testing.
type MockVendor struct {
	server    *httptest.Server
	mu        sync.Mutex
	sequences map[string][]MockResponse
	served    map[string]int
	handlers  map[string]http.HandlerFunc

	requestCount int
	inFlight     int
	maxInFlight  int
	requestTimes []time.Time
}

// NewMockVendor creates a new mock vendor server.
func NewMockVendor() *MockVendor {
	mock := &MockVendor{
		sequences: make(map[string][]MockResponse),
		served:    make(map[string]int),
		handlers:  make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.inFlight++
		if mock.inFlight > mock.maxInFlight {
			mock.maxInFlight = mock.inFlight
		}
		mock.requestTimes = append(mock.requestTimes, time.Now())
		handler, hasHandler := mock.handlers[r.URL.Path]
		resp, hasSequence := mock.next(r.URL.Path)
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inFlight--
			mock.mu.Unlock()
		}()

		switch {
		case hasHandler:
			handler(w, r)
		case hasSequence:
			writeResponse(w, r, resp)
		default:
			echoHandler(w, r)
		}
	}))

	return mock
}

// next returns the next scripted response for path. The last response of a
// sequence repeats. Callers hold m.mu.
func (m *MockVendor) next(path string) (MockResponse, bool) {
	seq, ok := m.sequences[path]
	if !ok || len(seq) == 0 {
		return MockResponse{}, false
	}
	i := m.served[path]
	m.served[path]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], true
}

// URL returns the mock server URL.
func (m *MockVendor) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockVendor) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and scripted positions.
func (m *MockVendor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.maxInFlight = 0
	m.requestTimes = nil
	m.served = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockVendor) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockVendor) SetResponse(path string, resp MockResponse) {
	m.SetSequence(path, resp)
}

// SetSequence configures responses served in order for a path.
func (m *MockVendor) SetSequence(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[path] = responses
	m.served[path] = 0
}

// RequestCount returns the number of requests made to the server.
func (m *MockVendor) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (m *MockVendor) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// RequestTimes returns the arrival time of every request.
func (m *MockVendor) RequestTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.requestTimes...)
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// echoHandler answers 200 with the request path and query as JSON.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	query := make(map[string]string, len(r.URL.Query()))
	for key := range r.URL.Query() {
		query[key] = r.URL.Query().Get(key)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"path":  r.URL.Path,
		"query": query,
	})
}

// NewOKResponse creates a standard 200 OK JSON response.
func NewOKResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewQueuedResponse creates a 202 Accepted response asking the client to poll
// again after retryIn seconds.
func NewQueuedResponse(retryIn int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusAccepted,
		Headers: map[string]string{
			"retryIn":        strconv.Itoa(retryIn),
			"reportsInQueue": "1",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfter),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewSlowResponse creates a 200 response delivered after delay.
func NewSlowResponse(delay time.Duration, data string) MockResponse {
	resp := NewOKResponse(data)
	resp.Delay = delay
	return resp
}

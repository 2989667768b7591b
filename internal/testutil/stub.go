package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const emptyJSONResult = `{"meta":[],"data":[],"rows":0}`

type stubResponse struct {
	match  string
	status int
	body   string
}

// ClickHouseStub is an in-process stand-in for the ClickHouse HTTP interface.
// It records every statement it receives and answers with the first
// registered response whose match string is contained in the statement.
type ClickHouseStub struct {
	server *httptest.Server

	mu        sync.Mutex
	queries   []string
	responses []stubResponse
}

// NewClickHouseStub starts a stub server that is closed when the test completes.
func NewClickHouseStub(t *testing.T) *ClickHouseStub {
	t.Helper()

	s := &ClickHouseStub{}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))

	t.Cleanup(s.server.Close)

	return s
}

// URL returns the base URL of the stub
func (s *ClickHouseStub) URL() string {
	return s.server.URL
}

// On registers a response for statements containing match
func (s *ClickHouseStub) On(match string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses = append(s.responses, stubResponse{match: match, status: status, body: body})
}

// Queries returns every statement received so far
func (s *ClickHouseStub) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.queries))
	copy(out, s.queries)

	return out
}

// QueriesContaining returns the received statements that contain substr
func (s *ClickHouseStub) QueriesContaining(substr string) []string {
	var out []string

	for _, q := range s.Queries() {
		if strings.Contains(q, substr) {
			out = append(out, q)
		}
	}

	return out
}

func (s *ClickHouseStub) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query := string(body)

	s.mu.Lock()
	s.queries = append(s.queries, query)

	var matched *stubResponse

	for i := range s.responses {
		if strings.Contains(query, s.responses[i].match) {
			matched = &s.responses[i]
			break
		}
	}
	s.mu.Unlock()

	if matched != nil {
		w.WriteHeader(matched.status)
		_, _ = io.WriteString(w, matched.body)

		return
	}

	if strings.HasSuffix(strings.TrimSpace(query), "FORMAT JSON") {
		_, _ = io.WriteString(w, emptyJSONResult)
	}
}

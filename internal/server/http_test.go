package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vantive/pulse/internal/stream"
	"github.com/vantive/pulse/pkg/lifecycle"
)

func newTestServer(t *testing.T) (*Server, *stream.Buffer) {
	t.Helper()
	log := zaptest.NewLogger(t)
	buffer := stream.NewBuffer(log)
	srv := New(":0", Deps{
		Buffer:    buffer,
		Lifecycle: lifecycle.NewManager(log),
		WSHandler: http.NotFoundHandler(),
		Log:       log,
	})
	return srv, buffer
}

func TestIngestEndpoint(t *testing.T) {
	srv, buffer := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/events/finance",
		strings.NewReader(`{"amount": 42.5, "category": "groceries"}`))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, buffer.Len(stream.DomainFinance))
}

func TestIngestRejectsBadPayload(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown domain", "/api/events/weather", `{"temp": 21}`},
		{"invalid event", "/api/events/finance", `{"amount": -1, "category": "x"}`},
		{"malformed json", "/api/events/finance", `{"amount":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, buffer := newTestServer(t)

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.httpServer.Handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
			assert.Equal(t, 0, buffer.Len(stream.DomainFinance))
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

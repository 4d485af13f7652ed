package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iderikon/mediastorage-proxy/pkg/logging"
)

func newLoggedRouter(t *testing.T, h http.HandlerFunc) (*mux.Router, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.INFO, true)
	logger.SetOutput(&buf)

	router := mux.NewRouter()
	router.Use(AccessLog(logger))
	router.HandleFunc("/get/{namespace}/{key}", h)
	return router, &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) logging.LogEntry {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry logging.LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestAccessLog(t *testing.T) {
	router, buf := newLoggedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "req-1")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("hello"))
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/get/media/a", nil))

	entry := lastEntry(t, buf)
	assert.Equal(t, "request", entry.Message)
	assert.Equal(t, "/get/{namespace}/{key}", entry.Fields["route"])
	assert.EqualValues(t, http.StatusPartialContent, entry.Fields["status"])
	assert.EqualValues(t, 5, entry.Fields["bytes"])
	assert.Equal(t, "req-1", entry.Fields["request_id"])
}

func TestAccessLogImplicitOK(t *testing.T) {
	router, buf := newLoggedRouter(t, func(w http.ResponseWriter, r *http.Request) {})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/get/media/a", nil))
	assert.EqualValues(t, http.StatusOK, lastEntry(t, buf).Fields["status"])
}

func TestAccessLogAbortedHandler(t *testing.T) {
	router, buf := newLoggedRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/get/media/a", nil))
	})

	entry := lastEntry(t, buf)
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, true, entry.Fields["aborted"])
}

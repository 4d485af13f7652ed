// Package stream adapts one net/http request/response pair to the transport
// a handler.Boundary drives.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iderikon/mediastorage-proxy/pkg/handler"
	"github.com/iderikon/mediastorage-proxy/pkg/logging"
)

var (
	ErrReplyAlreadySent = errors.New("reply already sent")
	ErrNoReply          = errors.New("response headers not sent")
	ErrClosed           = errors.New("stream closed")
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-Id"

// ErrorBody is the JSON body sent with error replies
type ErrorBody struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id"`
}

// HTTPStream is the transport of one HTTP request. Replies are sent at most
// once; a second reply attempt fails with ErrReplyAlreadySent.
type HTTPStream struct {
	w         http.ResponseWriter
	r         *http.Request
	logger    *logging.Logger
	requestID string

	mu       sync.Mutex // serializes writes to w
	replied  atomic.Bool
	status   atomic.Int32
	aborted  atomic.Bool
	closed   atomic.Bool
	written  atomic.Int64
	done     chan struct{}
	onClose  []func()
	closeErr error
}

// New creates the stream for w and r. The request id is taken from the
// incoming X-Request-Id header or generated.
func New(w http.ResponseWriter, r *http.Request, logger *logging.Logger) *HTTPStream {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(RequestIDHeader, requestID)

	return &HTTPStream{
		w:         w,
		r:         r,
		requestID: requestID,
		logger: logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
		}),
		done: make(chan struct{}),
	}
}

// Logger implements handler.Transport
func (s *HTTPStream) Logger() handler.Logger {
	return s.logger
}

// Log returns the request-scoped logger
func (s *HTTPStream) Log() *logging.Logger {
	return s.logger
}

// Request returns the underlying request
func (s *HTTPStream) Request() *http.Request {
	return s.r
}

// Context returns the request context
func (s *HTTPStream) Context() context.Context {
	return s.r.Context()
}

// RequestID returns the id assigned to this request
func (s *HTTPStream) RequestID() string {
	return s.requestID
}

// Status returns the status sent, or 0 if nothing was sent yet
func (s *HTTPStream) Status() int {
	return int(s.status.Load())
}

// BytesWritten returns the number of body bytes written
func (s *HTTPStream) BytesWritten() int64 {
	return s.written.Load()
}

// Replied reports whether a reply has been started
func (s *HTTPStream) Replied() bool {
	return s.replied.Load()
}

// Aborted reports whether a failure happened after the reply was started.
// The connection must then be dropped instead of finishing the body.
func (s *HTTPStream) Aborted() bool {
	return s.aborted.Load()
}

// claim reserves the single reply slot
func (s *HTTPStream) claim(status int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.replied.CompareAndSwap(false, true) {
		// The body is already streaming, the client can only learn about the
		// failure from a truncated response
		if status >= http.StatusBadRequest {
			s.aborted.Store(true)
		}
		return fmt.Errorf("%w (status %d, wanted %d)", ErrReplyAlreadySent, s.Status(), status)
	}
	s.status.Store(int32(status))

	if status >= http.StatusInternalServerError {
		span := trace.SpanFromContext(s.r.Context())
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	return nil
}

// SendReply implements handler.Transport. Error statuses carry a JSON body.
func (s *HTTPStream) SendReply(status int) error {
	if err := s.claim(status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status < http.StatusBadRequest {
		s.w.Header().Set("Content-Length", "0")
		s.w.WriteHeader(status)
		return nil
	}

	body, err := json.Marshal(ErrorBody{
		Error:     http.StatusText(status),
		Status:    status,
		RequestID: s.requestID,
	})
	if err != nil {
		return err
	}
	body = append(body, '\n')

	s.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	s.w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	s.w.WriteHeader(status)
	n, err := s.w.Write(body)
	s.written.Add(int64(n))
	return err
}

// ReplyJSON sends status with v encoded as the body
func (s *HTTPStream) ReplyJSON(status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	body = append(body, '\n')

	if err := s.claim(status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	s.w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	s.w.WriteHeader(status)
	n, err := s.w.Write(body)
	s.written.Add(int64(n))
	return err
}

// ReplyHeaders starts a streamed reply; the body follows through Write
func (s *HTTPStream) ReplyHeaders(status int, header http.Header) error {
	if err := s.claim(status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, vs := range header {
		for _, v := range vs {
			s.w.Header().Add(k, v)
		}
	}
	s.w.WriteHeader(status)
	return nil
}

// Write writes a body chunk of a reply started with ReplyHeaders
func (s *HTTPStream) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if !s.replied.Load() {
		return 0, ErrNoReply
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(p)
	s.written.Add(int64(n))
	if err == nil {
		if f, ok := s.w.(http.Flusher); ok {
			f.Flush()
		}
	}
	return n, err
}

// OnClose registers fn to run when the stream closes
func (s *HTTPStream) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// Close finishes the request. A request that never replied gets a 500 here,
// so the client is never left waiting.
func (s *HTTPStream) Close() error {
	if s.closed.Load() {
		return nil
	}

	if !s.replied.Load() {
		s.logger.Error("request finished without reply: http_status = 500",
			map[string]interface{}{"status": http.StatusInternalServerError})
		if err := s.SendReply(http.StatusInternalServerError); err != nil && !errors.Is(err, ErrReplyAlreadySent) {
			s.closeErr = err
		}
	}

	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	hooks := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	// Hooks run in reverse registration order, like defers
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}

	close(s.done)
	return s.closeErr
}

// Done is closed once the stream has been closed
func (s *HTTPStream) Done() <-chan struct{} {
	return s.done
}

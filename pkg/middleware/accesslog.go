package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iderikon/mediastorage-proxy/pkg/logging"
	"github.com/iderikon/mediastorage-proxy/pkg/tracing"
)

// AccessLog writes one line per request once the handler has returned
func AccessLog(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w}

			aborted := true
			defer func() {
				status := rw.status
				if status == 0 {
					status = http.StatusOK
				}
				fields := map[string]interface{}{
					"method":     r.Method,
					"route":      tracing.RouteName(r),
					"path":       r.URL.Path,
					"status":     status,
					"bytes":      rw.bytes,
					"duration":   time.Since(start).String(),
					"remote":     r.RemoteAddr,
					"request_id": w.Header().Get("X-Request-Id"),
				}
				if aborted {
					fields["aborted"] = true
					logger.Warn("request aborted", fields)
					return
				}
				logger.Info("request", fields)
			}()

			next.ServeHTTP(rw, r)
			aborted = false
		})
	}
}

// statusWriter records the status and body size of a response
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

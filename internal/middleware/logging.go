// Package middleware provides HTTP request logging for the coordinator's
// dashboard/API server, grounded on the teacher's
// backend/middleware.Logging (statusRecorder + zap + panic recovery),
// adapted here with a slow-request warning threshold: the coordinator's
// election round timers must never be perturbed by a stalled HTTP handler
// (spec 4.7's "never inline with the election's hot path" concern applies
// just as much to the status/history endpoints polling it), and with
// healthz calls demoted to Debug since the dashboard heartbeat polls it
// on a tight interval.
package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const slowRequestThreshold = 250 * time.Millisecond

// recorder wraps a ResponseWriter to capture the status code and bytes
// written, and to delegate Hijack/Flush so the dashboard's websocket
// upgrade still works when routed through this middleware.
type recorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (rec *recorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.size += n
	return n, err
}

func (rec *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

func (rec *recorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var requestSeq uint64

func nextRequestID(at time.Time) string {
	return fmt.Sprintf("%d-%x", atomic.AddUint64(&requestSeq, 1), at.UnixNano())
}

// Logging tags every request with an id, recovers from panics (returning
// 500 and logging the stack trace), and logs completion — at Warn instead
// of Info when the handler ran past slowRequestThreshold, and at Debug
// for /healthz to keep heartbeat polling quiet.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := nextRequestID(start)
			w.Header().Set("X-Request-ID", reqID)
			rec := &recorder{ResponseWriter: w}

			defer func() {
				panicked := recover()
				if panicked != nil {
					logger.Error("panic",
						zap.String("request_id", reqID),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("error", panicked),
						zap.ByteString("stack", debug.Stack()),
					)
					http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}

				elapsed := time.Since(start)
				fields := []zap.Field{
					zap.String("request_id", reqID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", rec.status),
					zap.Int("bytes", rec.size),
					zap.Int64("duration_ms", elapsed.Milliseconds()),
				}
				switch {
				case elapsed > slowRequestThreshold:
					logger.Warn("slow request", fields...)
				case r.URL.Path == "/healthz":
					logger.Debug("request", fields...)
				default:
					logger.Info("request", fields...)
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

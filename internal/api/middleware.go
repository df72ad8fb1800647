package api

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController and the WebSocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// instrument records request count, latency and a log line per request
// under the route pattern.
func instrument(route string, next http.Handler) http.Handler {
	log := logging.APILogger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		level := log.Debug
		if rec.status >= http.StatusInternalServerError {
			level = log.Warn
		} else if route != "GET /get_predictions" && route != "GET /get_packets" {
			level = log.Info
		}
		level("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			logging.Duration("duration", elapsed),
			"remote", r.RemoteAddr)
	})
}

// limitBody caps the request body size.
func limitBody(max int64, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next(w, r)
	}
}

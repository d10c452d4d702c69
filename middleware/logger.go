package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"songpool-api-go/logcolors"
	"songpool-api-go/stats"

	log "github.com/sirupsen/logrus"
)

// ResponseRecorder wraps http.ResponseWriter to capture the status code and
// body size for logging and stats
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
	BodySize   int
}

// NewResponseRecorder creates a recorder defaulting to 200 OK
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader captures the status code before delegating
func (r *ResponseRecorder) WriteHeader(code int) {
	r.StatusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Write tracks the number of bytes written
func (r *ResponseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.BodySize += n
	return n, err
}

// Hijack passes websocket upgrades through to the underlying writer
func (r *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

// getStatusColor returns the ANSI color for a status code class
func getStatusColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "\033[32m" // green
	case statusCode >= 300 && statusCode < 400:
		return "\033[36m" // cyan
	case statusCode >= 400 && statusCode < 500:
		return "\033[33m" // yellow
	case statusCode >= 500:
		return "\033[31m" // red
	default:
		return "\033[0m"
	}
}

// LoggingMiddleware logs every request with its status, size and duration,
// and feeds the request counters
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewResponseRecorder(w)

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		s := stats.Get()
		s.RecordRequest(r.URL.Path)
		s.RecordStatusCode(rec.StatusCode)
		s.RecordResponseTime(duration, r.URL.Path)

		log.Infof("%s %s %s %s%d%s %dB %v",
			logcolors.LogHTTP, r.Method, r.URL.Path,
			getStatusColor(rec.StatusCode), rec.StatusCode, logcolors.Reset,
			rec.BodySize, duration)
	})
}

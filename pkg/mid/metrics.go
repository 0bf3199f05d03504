package mid

import (
	"net/http"
	"time"
)

// HTTPRecorder receives per-request measurements.
type HTTPRecorder interface {
	HTTPRequest(method, route string, status int, d time.Duration)
}

// Metrics returns middleware that records each request under its matched
// ServeMux pattern. It must be the innermost middleware so it sees the
// pattern the mux sets on the request.
func Metrics(rec HTTPRecorder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			rec.HTTPRequest(r.Method, route, sw.status, time.Since(start))
		})
	}
}

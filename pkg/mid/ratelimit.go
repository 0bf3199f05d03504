package mid

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// KeyedAllower decides per client key whether a request may proceed.
type KeyedAllower interface {
	Allow(key string) bool
}

// RateLimit returns middleware that rejects clients over their allowance
// with 429 and a Retry-After hint. onLimited may be nil.
func RateLimit(limiter KeyedAllower, retryAfter time.Duration, onLimited func()) Middleware {
	secs := strconv.Itoa(max(1, int((retryAfter+time.Second-1)/time.Second)))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || limiter.Allow(ClientKey(r)) {
				next.ServeHTTP(w, r)
				return
			}
			if onLimited != nil {
				onLimited()
			}
			w.Header().Set("Retry-After", secs)
			writeJSONError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
		})
	}
}

// ClientKey identifies the caller: the first X-Forwarded-For hop when
// present, otherwise the remote host.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); strings.TrimSpace(fwd) != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

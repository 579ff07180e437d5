package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// TimeoutMiddleware answers 503 when a handler does not finish within timeout.
func TimeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.TimeoutHandler(h, timeout, "server timed out")
	}
}

// ConcurrencyLimitMiddleware lets at most maxConcurrentRequests requests into the handler at a time.
// Waiting requests are dropped with 503 once their context is done.
func ConcurrencyLimitMiddleware(maxConcurrentRequests int) mux.MiddlewareFunc {
	bucket := make(chan struct{}, maxConcurrentRequests)
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case bucket <- struct{}{}:
				defer func() { <-bucket }()
				h.ServeHTTP(w, r)
			case <-r.Context().Done():
				http.Error(w, "server busy", http.StatusServiceUnavailable)
			}
		})
	}
}

package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout attaches a deadline to the request context. Handlers are expected
// to check it; lookups are in-memory so only cache round-trips ever wait.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

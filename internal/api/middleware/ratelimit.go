// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// APIRateLimit returns a per-IP sliding-window rate limiter for the API.
func APIRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute < 1 {
		requestsPerMinute = 120
	}
	window := time.Minute

	return httprate.Limit(
		requestsPerMinute,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}

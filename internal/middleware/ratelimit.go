package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"
)

// RateLimit caps requests per window. Authenticated requests are counted per
// caller so services behind one NAT do not share a budget; anonymous requests
// are counted per client IP.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(KeyByCaller),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte(`{"error":"rate limit exceeded","code":"rate_limit"}` + "\n")); err != nil {
				log.Debug().Err(err).Msg("failed to write rate limit response")
			}
		}),
	)
}

// KeyByCaller keys on the JWT subject set by RequireAuth, falling back to the client IP.
func KeyByCaller(r *http.Request) (string, error) {
	if caller, ok := Caller(r.Context()); ok && caller != "" {
		return "caller:" + caller, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}

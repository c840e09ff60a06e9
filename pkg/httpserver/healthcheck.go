package httpserver

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck is a dependency probe, e.g. a database ping.
type HealthCheck func(ctx context.Context) error

// HealthHandler returns an HTTP handler that runs all probes and reports
// 200 when every dependency is reachable, 503 otherwise. Each probe gets a
// short deadline so a stuck dependency cannot hang the health endpoint.
func HealthHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := check(ctx)
			cancel()
			if err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

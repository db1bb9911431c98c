// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Pinger is satisfied by sql.DB and the redis client wrapper.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Readiness reports ready once every backend answers a ping.
func Readiness(backends map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		type resp struct {
			Status  string            `json:"status"`
			Details map[string]string `json:"details,omitempty"`
		}
		out := resp{Status: "ready", Details: map[string]string{}}
		code := http.StatusOK
		for name, p := range backends {
			if err := p.PingContext(ctx); err != nil {
				out.Status = "not_ready"
				out.Details[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			out.Details[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(out)
	}
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Priya8975/order-relay/internal/feed"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type FeedStater interface {
	State() feed.State
}

type SessionCounter interface {
	ClientCount() int
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Feed      string    `json:"feed"`
	Sessions  int       `json:"sessions"`
}

// HealthHandler reports degraded with 503 when the database is unreachable.
// A reconnecting feed is reported but does not fail the check.
func HealthHandler(db Pinger, listener FeedStater, sessions SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Database:  "ok",
			Feed:      string(listener.State()),
			Sessions:  sessions.ClientCount(),
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}

		respondJSON(w, status, resp)
	}
}

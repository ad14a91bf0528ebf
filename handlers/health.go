package handlers

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Pinger checks that storage is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports the number of open realtime sessions
type SessionCounter interface {
	Count() int
}

// HealthHandler serves liveness and keep-alive probes
type HealthHandler struct {
	db          Pinger
	sessions    SessionCounter
	environment string
	started     time.Time
}

func NewHealthHandler(db Pinger, sessions SessionCounter, environment string) *HealthHandler {
	return &HealthHandler{
		db:          db,
		sessions:    sessions,
		environment: environment,
		started:     time.Now(),
	}
}

// Health reports that the process is up. HEAD requests get the status only.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "OK",
		"message":     "Email collector is running",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"uptime":      time.Since(h.started).Seconds(),
		"environment": h.environment,
		"sessions":    h.sessions.Count(),
	})
}

// KeepAlive pings the database. It answers 200 even when the ping fails so
// uptime monitors keep hitting it.
func (h *HealthHandler) KeepAlive(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  "connected",
		"message":   "Keep-alive ping successful",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		log.Printf("Keep-alive database error: %v", err)
		resp["database"] = "error"
		resp["message"] = "Keep-alive ping with database error"
	}

	writeJSON(w, http.StatusOK, resp)
}

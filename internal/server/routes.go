package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/contact-gateway/internal/connection"
)

const (
	// ContactPath is where the contact collaborator is mounted.
	ContactPath = "/api/contact"
	// HealthPath serves the HealthSnapshot.
	HealthPath = "/api/health"

	msgWelcome = "Welcome to the contact API"
	msgHealthy = "API is working"

	dbConnected    = "connected"
	dbDisconnected = "disconnected"
)

// HealthSnapshot is computed for each health check and never stored.
type HealthSnapshot struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	DBStatus string `json:"db_status"`
	Time     string `json:"time"`
}

// isoMillis matches the millisecond UTC timestamps browsers produce.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Snapshot derives a HealthSnapshot from the connection state.
func Snapshot(state connection.State, now time.Time) HealthSnapshot {
	status := dbDisconnected
	if state == connection.StateReady {
		status = dbConnected
	}
	return HealthSnapshot{
		Success:  true,
		Message:  msgHealthy,
		DBStatus: status,
		Time:     now.UTC().Format(isoMillis),
	}
}

func (s *Server) routes(r chi.Router) {
	r.NotFound(NotFoundHandler)
	r.MethodNotAllowed(NotFoundHandler)

	r.Get("/", Handle(s.handleWelcome, s.onError))
	r.Get("/favicon.ico", handleFavicon)
	r.Get("/favicon.png", handleFavicon)
	r.Get(HealthPath, Handle(s.handleHealth, s.onError))

	if s.contact != nil {
		r.Mount(ContactPath, s.contact)
	}

	if s.cfg.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) error {
	WriteMessage(w, http.StatusOK, true, msgWelcome)
	return nil
}

func handleFavicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	state := connection.StateUninitialized
	if s.status != nil {
		state = s.status.State()
	}
	WriteJSON(w, http.StatusOK, Snapshot(state, s.now()))
	return nil
}

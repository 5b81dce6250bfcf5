package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetpulse/fleetpulse/internal/handlers"
	"github.com/fleetpulse/fleetpulse/internal/httputil"
	"github.com/fleetpulse/fleetpulse/internal/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth      *handlers.AuthHandler
	Telemetry *handlers.TelemetryHandler
	Machines  *handlers.MachineHandler
	Alerts    *handlers.AlertHandler
	Events    *handlers.EventsHandler
}

// NewRouter wires all API routes behind the request-ID and CORS
// middleware. Method routing keeps auth decisions on the route itself:
// agent routes carry RequireAgent, operator routes RequireOperator.
func NewRouter(h Handlers, auth *middleware.AuthMiddleware, cors middleware.CORSConfig) http.Handler {
	mux := http.NewServeMux()

	// Agent endpoints (shared secret)
	mux.HandleFunc("POST /api/telemetry", auth.RequireAgent(h.Telemetry.Ingest))
	mux.HandleFunc("POST /api/logs", auth.RequireAgent(h.Telemetry.AgentLog))
	mux.HandleFunc("POST /api/deregister", auth.RequireAgent(h.Telemetry.Deregister))

	// Auth endpoints
	mux.HandleFunc("GET /api/auth/status", h.Auth.Status)
	mux.HandleFunc("POST /api/auth/setup", h.Auth.Setup)
	mux.HandleFunc("POST /api/auth/login", h.Auth.Login)
	mux.HandleFunc("GET /api/auth/me", auth.RequireOperator(h.Auth.Me))
	mux.HandleFunc("POST /api/auth/logout", auth.RequireOperator(h.Auth.Logout))
	mux.HandleFunc("POST /api/auth/change-password", auth.RequireOperator(h.Auth.ChangePassword))

	// Fleet endpoints (operator token)
	mux.HandleFunc("GET /api/machines", auth.RequireOperator(h.Machines.List))
	mux.HandleFunc("GET /api/machines/{id}", auth.RequireOperator(h.Machines.Get))
	mux.HandleFunc("GET /api/machines/{id}/history", auth.RequireOperator(h.Machines.History))
	mux.HandleFunc("PUT /api/machines/{id}/profile", auth.RequireOperator(h.Machines.UpdateProfile))
	mux.HandleFunc("DELETE /api/machines/{id}", auth.RequireRole("admin")(h.Machines.Delete))

	// Alert endpoints (operator token)
	mux.HandleFunc("GET /api/alerts/policies", auth.RequireOperator(h.Alerts.ListPolicies))
	mux.HandleFunc("POST /api/alerts/policies", auth.RequireOperator(h.Alerts.CreatePolicy))
	mux.HandleFunc("PUT /api/alerts/policies/{id}", auth.RequireOperator(h.Alerts.UpdatePolicy))
	mux.HandleFunc("DELETE /api/alerts/policies/{id}", auth.RequireOperator(h.Alerts.DeletePolicy))
	mux.HandleFunc("GET /api/alerts/active", auth.RequireOperator(h.Alerts.ActiveAlerts))

	// Event stream. The dashboard's EventSource API cannot set headers,
	// so the stream itself is open; it carries state changes, not data
	// a caller could not fetch by polling the authenticated endpoints.
	mux.HandleFunc("GET /api/events/stream", h.Events.Stream)

	mux.HandleFunc("GET /healthz", healthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(middleware.CORS(cors)(mux))
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fleetpulse/fleetpulse/internal/httputil"
	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/service"
)

// TelemetryHandler serves the agent-facing ingestion endpoints. All of
// them sit behind the agent credential check.
type TelemetryHandler struct {
	fleet  *service.FleetService
	logger *logging.Logger
}

func NewTelemetryHandler(fleet *service.FleetService, logger *logging.Logger) *TelemetryHandler {
	return &TelemetryHandler{fleet: fleet, logger: logger}
}

// Ingest accepts one telemetry payload. The body is decoded untyped:
// the sanitizer, not the decoder, decides what every field means.
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	update, err := h.fleet.IngestTelemetry(r.Context(), raw)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("telemetry rejected", logging.Error(err))
		writeServiceError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"machine_id": update.ID,
	})
}

func (h *TelemetryHandler) AgentLog(w http.ResponseWriter, r *http.Request) {
	var req models.AgentLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.fleet.RecordAgentLog(r.Context(), req); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w)
}

// Deregister removes a machine when its agent is uninstalled.
func (h *TelemetryHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	var req models.DeregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.fleet.Deregister(r.Context(), req.MachineID); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w)
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fleetpulse/fleetpulse/internal/httputil"
	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/middleware"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/service"
)

const maxHistoryLimit = 500

type MachineHandler struct {
	fleet  *service.FleetService
	logger *logging.Logger
}

func NewMachineHandler(fleet *service.FleetService, logger *logging.Logger) *MachineHandler {
	return &MachineHandler{fleet: fleet, logger: logger}
}

func (h *MachineHandler) List(w http.ResponseWriter, r *http.Request) {
	machines, err := h.fleet.ListMachines(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Error("list machines", logging.Error(err))
		writeServiceError(w, err)
		return
	}
	if machines == nil {
		machines = []models.MachineWithSample{}
	}
	httputil.WriteJSON(w, http.StatusOK, machines)
}

func (h *MachineHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.fleet.GetMachineDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *MachineHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := httputil.ParseIntParam(r.URL.Query().Get("limit"), 50)
	if limit < 1 || limit > maxHistoryLimit {
		limit = 50
	}

	samples, err := h.fleet.MachineHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if samples == nil {
		samples = []models.MetricsSample{}
	}
	httputil.WriteJSON(w, http.StatusOK, samples)
}

func (h *MachineHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Profile == nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	machine, err := h.fleet.UpdateProfile(r.Context(), r.PathValue("id"), *req.Profile)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, machine)
}

// Delete is operator-initiated machine removal; the route restricts it to
// the admin role.
func (h *MachineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.fleet.RemoveMachine(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	h.logger.WithContext(r.Context()).Info("machine deleted by operator",
		logging.MachineID(id), logging.Username(middleware.OperatorName(r.Context())))
	httputil.WriteSuccess(w)
}

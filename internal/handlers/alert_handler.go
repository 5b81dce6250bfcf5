package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fleetpulse/fleetpulse/internal/httputil"
	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/service"
)

type AlertHandler struct {
	policies *service.PolicyService
	logger   *logging.Logger
}

func NewAlertHandler(policies *service.PolicyService, logger *logging.Logger) *AlertHandler {
	return &AlertHandler{policies: policies, logger: logger}
}

func (h *AlertHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.List(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Error("list policies", logging.Error(err))
		writeServiceError(w, err)
		return
	}
	if policies == nil {
		policies = []models.AlertPolicy{}
	}
	httputil.WriteJSON(w, http.StatusOK, policies)
}

func (h *AlertHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req models.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	policy, err := h.policies.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, policy)
}

func (h *AlertHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req models.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	policy, err := h.policies.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

func (h *AlertHandler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.policies.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w)
}

func (h *AlertHandler) ActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.policies.ListActiveAlerts(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Error("list active alerts", logging.Error(err))
		writeServiceError(w, err)
		return
	}
	if alerts == nil {
		alerts = []models.ActiveAlert{}
	}
	httputil.WriteJSON(w, http.StatusOK, alerts)
}

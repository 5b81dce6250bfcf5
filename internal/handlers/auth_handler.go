package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fleetpulse/fleetpulse/internal/httputil"
	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/middleware"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/service"
	"github.com/fleetpulse/fleetpulse/pkg/tokens"
)

type AuthHandler struct {
	auth   *service.AuthService
	tokens *tokens.Generator
	logger *logging.Logger
}

func NewAuthHandler(auth *service.AuthService, gen *tokens.Generator, logger *logging.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: gen, logger: logger}
}

// Status is public: the dashboard calls it before rendering either the
// setup wizard, the login form or the app shell.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	setupRequired, err := h.auth.SetupRequired(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).Error("auth status", logging.Error(err))
		writeServiceError(w, err)
		return
	}

	resp := models.AuthStatusResponse{SetupRequired: setupRequired}
	if token := httputil.BearerToken(r); token != "" {
		if claims, err := h.tokens.Validate(token); err == nil {
			if user, err := h.auth.CurrentUser(r.Context(), claims.UserID); err == nil {
				resp.Authenticated = true
				resp.User = user
			}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req models.SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.auth.Setup(r.Context(), req)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("setup rejected",
			logging.Error(err), logging.IP(httputil.GetClientIP(r)))
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CurrentUser(r.Context(), middleware.OperatorID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// Logout acknowledges the client discarding its token. Tokens are
// stateless, so there is nothing to revoke server-side.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.auth.ChangePassword(r.Context(), middleware.OperatorID(r.Context()),
		req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w)
}

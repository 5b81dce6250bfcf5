package handlers

import (
	"errors"
	"net/http"

	"github.com/fleetpulse/fleetpulse/internal/httputil"
	"github.com/fleetpulse/fleetpulse/internal/repository"
	"github.com/fleetpulse/fleetpulse/internal/service"
)

// writeServiceError maps service sentinels onto HTTP statuses. Anything
// unmapped is a 500 with a generic body so internals never leak.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInvalidCredentials):
		httputil.WriteError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, service.ErrSetupComplete):
		httputil.WriteError(w, http.StatusForbidden, "setup already completed")
	case errors.Is(err, service.ErrInvalidSetupToken):
		httputil.WriteError(w, http.StatusForbidden, "invalid setup token")
	case errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrMissingUsername),
		errors.Is(err, service.ErrMissingMachineID),
		errors.Is(err, service.ErrInvalidPolicy):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

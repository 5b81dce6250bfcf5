package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldService   = "service"
	FieldMachineID = "machine_id"
	FieldPolicyID  = "policy_id"
	FieldAlertID   = "alert_id"
	FieldUserID    = "user_id"
	FieldUsername  = "username"
	FieldIP        = "ip"
	FieldError     = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// MachineID returns a slog attribute for a machine ID.
func MachineID(id string) slog.Attr {
	return slog.String(FieldMachineID, id)
}

// PolicyID returns a slog attribute for an alert policy ID.
func PolicyID(id string) slog.Attr {
	return slog.String(FieldPolicyID, id)
}

// AlertID returns a slog attribute for an alert instance ID.
func AlertID(id string) slog.Attr {
	return slog.String(FieldAlertID, id)
}

// Username returns a slog attribute for an operator username.
func Username(name string) slog.Attr {
	return slog.String(FieldUsername, name)
}

// IP returns a slog attribute for a client IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

package models

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresIn int        `json:"expires_in"`
	TokenType string     `json:"token_type"`
	User      *AdminUser `json:"user"`
}

type SetupRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	SetupToken string `json:"setup_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type AuthStatusResponse struct {
	Authenticated bool       `json:"authenticated"`
	SetupRequired bool       `json:"setup_required"`
	User          *AdminUser `json:"user,omitempty"`
}

type PolicyRequest struct {
	Name           string   `json:"name"`
	Metric         string   `json:"metric"`
	Operator       string   `json:"operator"`
	Threshold      *float64 `json:"threshold"`
	SustainMinutes int      `json:"duration_minutes"`
	Priority       Priority `json:"priority"`
	Enabled        *bool    `json:"enabled"`
}

type ProfileUpdateRequest struct {
	Profile *MachineProfile `json:"profile"`
}

type AgentLogRequest struct {
	MachineID  string `json:"machine_id"`
	Level      string `json:"level"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

type DeregisterRequest struct {
	MachineID string `json:"machine_id"`
}

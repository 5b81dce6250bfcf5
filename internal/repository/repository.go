package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fleetpulse/fleetpulse/internal/models"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("user already exists")
)

// Repository is the narrow contract every component uses to reach the
// fleet store. All mutations are per-row atomic; no cross-machine
// transaction is required.
type Repository interface {
	// Machines
	UpsertMachine(ctx context.Context, m *models.Machine) error
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	ListMachinesWithLatest(ctx context.Context) ([]models.MachineWithSample, error)
	UpdateMachineProfile(ctx context.Context, id string, p models.MachineProfile) error
	DeleteMachine(ctx context.Context, id string) error
	// MarkOffline flips online machines whose last_seen predates cutoff
	// and returns the IDs that were flipped. It never flips the other way.
	MarkOffline(ctx context.Context, cutoff time.Time) ([]string, error)

	// Samples (append-only)
	InsertMetrics(ctx context.Context, s *models.MetricsSample) error
	InsertEvents(ctx context.Context, events []models.EventSample) error
	RecentMetrics(ctx context.Context, machineID string, limit int) ([]models.MetricsSample, error)
	RecentEvents(ctx context.Context, machineID string, limit int) ([]models.EventSample, error)

	// Agent operational logs
	InsertAgentLog(ctx context.Context, l *models.AgentLog) error
	HasRecentErrorLog(ctx context.Context, machineID string, since time.Time) (bool, error)

	// Alert policies
	ListPolicies(ctx context.Context) ([]models.AlertPolicy, error)
	ListEnabledPolicies(ctx context.Context) ([]models.AlertPolicy, error)
	GetPolicy(ctx context.Context, id string) (*models.AlertPolicy, error)
	CreatePolicy(ctx context.Context, p *models.AlertPolicy) error
	UpdatePolicy(ctx context.Context, p *models.AlertPolicy) error
	DeletePolicy(ctx context.Context, id string) error
	CountPolicies(ctx context.Context) (int, error)

	// Alert instances (audit trail: resolved, never deleted)
	OpenAlert(ctx context.Context, a *models.Alert) error
	GetActiveAlert(ctx context.Context, machineID, policyID string) (*models.Alert, error)
	ResolveAlert(ctx context.Context, machineID, policyID string, at time.Time) (bool, error)
	ListActiveAlerts(ctx context.Context) ([]models.ActiveAlert, error)

	// Operator accounts and the one-time bootstrap token
	CountAdmins(ctx context.Context) (int, error)
	CreateAdmin(ctx context.Context, u *models.AdminUser) error
	GetAdminByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	GetAdminByID(ctx context.Context, id string) (*models.AdminUser, error)
	UpdateAdminPassword(ctx context.Context, id, passwordHash string) error
	CreateSetupToken(ctx context.Context, token string) error
	GetUnusedSetupToken(ctx context.Context) (string, error)
	// ConsumeSetupToken atomically marks the token used. Returns false when
	// the token is unknown or already consumed.
	ConsumeSetupToken(ctx context.Context, token string) (bool, error)
	ClearSetupTokens(ctx context.Context) error

	Close()
}

package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fleetpulse/fleetpulse/internal/models"
)

// InMemoryRepository is a mutex-guarded store used in development mode and
// in tests. It honors the same contract as the Postgres implementation.
type InMemoryRepository struct {
	mu          sync.RWMutex
	machines    map[string]*models.Machine
	metrics     map[string][]models.MetricsSample
	events      map[string][]models.EventSample
	agentLogs   map[string][]models.AgentLog
	policies    map[string]*models.AlertPolicy
	alerts      []*models.Alert
	admins      map[string]*models.AdminUser
	adminsByKey map[string]*models.AdminUser
	setupTokens map[string]bool // token -> used
	nextID      int64
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		machines:    make(map[string]*models.Machine),
		metrics:     make(map[string][]models.MetricsSample),
		events:      make(map[string][]models.EventSample),
		agentLogs:   make(map[string][]models.AgentLog),
		policies:    make(map[string]*models.AlertPolicy),
		admins:      make(map[string]*models.AdminUser),
		adminsByKey: make(map[string]*models.AdminUser),
		setupTokens: make(map[string]bool),
	}
}

func (r *InMemoryRepository) Close() {}

func (r *InMemoryRepository) UpsertMachine(ctx context.Context, m *models.Machine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.machines[m.ID]
	if !ok {
		stored := *m
		stored.Status = models.StatusOnline
		if stored.LastSeen.IsZero() {
			stored.LastSeen = time.Now()
		}
		stored.CreatedAt = stored.LastSeen
		r.machines[m.ID] = &stored
		return nil
	}

	existing.Hostname = m.Hostname
	if m.IPAddress != "" {
		existing.IPAddress = m.IPAddress
	}
	if m.OSInfo != "" {
		existing.OSInfo = m.OSInfo
	}
	if m.OSDistro != "" {
		existing.OSDistro = m.OSDistro
	}
	if m.OSRelease != "" {
		existing.OSRelease = m.OSRelease
	}
	if m.DeviceName != "" {
		existing.DeviceName = m.DeviceName
	}
	if m.Users != nil {
		existing.Users = m.Users
	}
	if m.Hardware != nil {
		existing.Hardware = m.Hardware
	}
	existing.Status = models.StatusOnline
	// last_seen only moves forward
	now := m.LastSeen
	if now.IsZero() {
		now = time.Now()
	}
	if now.After(existing.LastSeen) {
		existing.LastSeen = now
	}
	return nil
}

func (r *InMemoryRepository) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.machines[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *InMemoryRepository) ListMachinesWithLatest(ctx context.Context) ([]models.MachineWithSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.MachineWithSample, 0, len(r.machines))
	for id, m := range r.machines {
		item := models.MachineWithSample{Machine: *m}
		if samples := r.metrics[id]; len(samples) > 0 {
			latest := samples[len(samples)-1]
			item.Latest = &latest
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Hostname) < strings.ToLower(out[j].Hostname)
	})
	return out, nil
}

func (r *InMemoryRepository) UpdateMachineProfile(ctx context.Context, id string, p models.MachineProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.machines[id]
	if !ok {
		return ErrNotFound
	}
	m.Profile = p
	return nil
}

func (r *InMemoryRepository) DeleteMachine(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.machines[id]; !ok {
		return ErrNotFound
	}
	delete(r.machines, id)
	delete(r.metrics, id)
	delete(r.events, id)
	delete(r.agentLogs, id)
	return nil
}

func (r *InMemoryRepository) MarkOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flipped []string
	for id, m := range r.machines {
		if m.Status == models.StatusOnline && m.LastSeen.Before(cutoff) {
			m.Status = models.StatusOffline
			flipped = append(flipped, id)
		}
	}
	sort.Strings(flipped)
	return flipped, nil
}

func (r *InMemoryRepository) InsertMetrics(ctx context.Context, s *models.MetricsSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := *s
	stored.ID = r.nextID
	r.metrics[s.MachineID] = append(r.metrics[s.MachineID], stored)
	return nil
}

func (r *InMemoryRepository) InsertEvents(ctx context.Context, events []models.EventSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range events {
		r.nextID++
		e.ID = r.nextID
		r.events[e.MachineID] = append(r.events[e.MachineID], e)
	}
	return nil
}

func (r *InMemoryRepository) RecentMetrics(ctx context.Context, machineID string, limit int) ([]models.MetricsSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	samples := r.metrics[machineID]
	return lastN(samples, limit), nil
}

func (r *InMemoryRepository) RecentEvents(ctx context.Context, machineID string, limit int) ([]models.EventSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lastN(r.events[machineID], limit), nil
}

func (r *InMemoryRepository) InsertAgentLog(ctx context.Context, l *models.AgentLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := *l
	stored.ID = r.nextID
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	r.agentLogs[l.MachineID] = append(r.agentLogs[l.MachineID], stored)
	return nil
}

func (r *InMemoryRepository) HasRecentErrorLog(ctx context.Context, machineID string, since time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.agentLogs[machineID] {
		if l.Timestamp.Before(since) {
			continue
		}
		level := strings.ToLower(l.Level)
		msg := strings.ToLower(l.Message)
		if level == "error" || level == "critical" ||
			strings.Contains(msg, "crash") || strings.Contains(msg, "exception") {
			return true, nil
		}
	}
	return false, nil
}

func (r *InMemoryRepository) ListPolicies(ctx context.Context) ([]models.AlertPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AlertPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepository) ListEnabledPolicies(ctx context.Context) ([]models.AlertPolicy, error) {
	all, _ := r.ListPolicies(ctx)
	out := all[:0]
	for _, p := range all {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) GetPolicy(ctx context.Context, id string) (*models.AlertPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *InMemoryRepository) CreatePolicy(ctx context.Context, p *models.AlertPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *p
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	r.policies[p.ID] = &stored
	return nil
}

func (r *InMemoryRepository) UpdatePolicy(ctx context.Context, p *models.AlertPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.policies[p.ID]
	if !ok {
		return ErrNotFound
	}
	created := existing.CreatedAt
	stored := *p
	stored.CreatedAt = created
	r.policies[p.ID] = &stored
	return nil
}

func (r *InMemoryRepository) DeletePolicy(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.policies[id]; !ok {
		return ErrNotFound
	}
	delete(r.policies, id)
	return nil
}

func (r *InMemoryRepository) CountPolicies(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.policies), nil
}

func (r *InMemoryRepository) OpenAlert(ctx context.Context, a *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Mirrors the partial unique index: at most one active alert per pair.
	for _, existing := range r.alerts {
		if existing.MachineID == a.MachineID && existing.PolicyID == a.PolicyID &&
			existing.Status == models.AlertActive {
			return nil
		}
	}
	stored := *a
	r.alerts = append(r.alerts, &stored)
	return nil
}

func (r *InMemoryRepository) GetActiveAlert(ctx context.Context, machineID, policyID string) (*models.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.alerts {
		if a.MachineID == machineID && a.PolicyID == policyID && a.Status == models.AlertActive {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) ResolveAlert(ctx context.Context, machineID, policyID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := false
	for _, a := range r.alerts {
		if a.MachineID == machineID && a.PolicyID == policyID && a.Status == models.AlertActive {
			a.Status = models.AlertResolved
			ts := at
			a.ResolvedAt = &ts
			resolved = true
		}
	}
	return resolved, nil
}

func (r *InMemoryRepository) ListActiveAlerts(ctx context.Context) ([]models.ActiveAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ActiveAlert
	for _, a := range r.alerts {
		if a.Status != models.AlertActive {
			continue
		}
		item := models.ActiveAlert{Alert: *a}
		if p, ok := r.policies[a.PolicyID]; ok {
			item.PolicyName = p.Name
			item.Priority = p.Priority
		}
		if m, ok := r.machines[a.MachineID]; ok {
			item.Hostname = m.Hostname
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

func (r *InMemoryRepository) CountAdmins(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins), nil
}

func (r *InMemoryRepository) CreateAdmin(ctx context.Context, u *models.AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adminsByKey[u.Username]; exists {
		return ErrUserExists
	}
	stored := *u
	r.admins[u.ID] = &stored
	r.adminsByKey[u.Username] = &stored
	return nil
}

func (r *InMemoryRepository) GetAdminByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.adminsByKey[username]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *InMemoryRepository) GetAdminByID(ctx context.Context, id string) (*models.AdminUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.admins[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *InMemoryRepository) UpdateAdminPassword(ctx context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.admins[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (r *InMemoryRepository) CreateSetupToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setupTokens[token] = false
	return nil
}

func (r *InMemoryRepository) GetUnusedSetupToken(ctx context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for token, used := range r.setupTokens {
		if !used {
			return token, nil
		}
	}
	return "", ErrNotFound
}

func (r *InMemoryRepository) ConsumeSetupToken(ctx context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	used, ok := r.setupTokens[token]
	if !ok || used {
		return false, nil
	}
	r.setupTokens[token] = true
	return true, nil
}

func (r *InMemoryRepository) ClearSetupTokens(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.setupTokens = make(map[string]bool)
	return nil
}

func lastN[T any](items []T, limit int) []T {
	if limit <= 0 {
		limit = 50
	}
	start := len(items) - limit
	if start < 0 {
		start = 0
	}
	out := make([]T, 0, len(items)-start)
	// newest first
	for i := len(items) - 1; i >= start; i-- {
		out = append(out, items[i])
	}
	return out
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetpulse/fleetpulse/internal/models"
)

const queryTimeout = 5 * time.Second

// PostgresRepository is the production fleet store. Upserts rely on the
// engine's row-level atomicity; the per-machine write lock lives in the
// fleet service.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) UpsertMachine(ctx context.Context, m *models.Machine) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	usersJSON, err := json.Marshal(m.Users)
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}
	var hwJSON []byte
	if m.Hardware != nil {
		hwJSON, err = json.Marshal(m.Hardware)
		if err != nil {
			return fmt.Errorf("marshal hardware: %w", err)
		}
	}

	// COALESCE keeps previously reported hardware when a sample omits it;
	// GREATEST guarantees last_seen only moves forward.
	query := `
		INSERT INTO machines
			(id, hostname, ip_address, os_info, os_distro, os_release, device_name,
			 users, hardware_info, profile, status, last_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}'::jsonb, 'online', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			hostname      = EXCLUDED.hostname,
			ip_address    = COALESCE(NULLIF(EXCLUDED.ip_address, ''), machines.ip_address),
			os_info       = COALESCE(NULLIF(EXCLUDED.os_info, ''), machines.os_info),
			os_distro     = COALESCE(NULLIF(EXCLUDED.os_distro, ''), machines.os_distro),
			os_release    = COALESCE(NULLIF(EXCLUDED.os_release, ''), machines.os_release),
			device_name   = COALESCE(NULLIF(EXCLUDED.device_name, ''), machines.device_name),
			users         = EXCLUDED.users,
			hardware_info = COALESCE(EXCLUDED.hardware_info, machines.hardware_info),
			status        = 'online',
			last_seen     = GREATEST(machines.last_seen, NOW())
	`

	if _, err := r.pool.Exec(ctx, query,
		m.ID, m.Hostname, m.IPAddress, m.OSInfo, m.OSDistro, m.OSRelease,
		m.DeviceName, usersJSON, hwJSON,
	); err != nil {
		return fmt.Errorf("upsert machine: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT id, hostname, ip_address, os_info, os_distro, os_release,
		       device_name, users, hardware_info, profile, status, last_seen, created_at
		FROM machines WHERE id = $1
	`

	m, err := scanMachine(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get machine: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (*models.Machine, error) {
	var m models.Machine
	var usersJSON, hwJSON, profileJSON []byte

	if err := row.Scan(
		&m.ID, &m.Hostname, &m.IPAddress, &m.OSInfo, &m.OSDistro, &m.OSRelease,
		&m.DeviceName, &usersJSON, &hwJSON, &profileJSON, &m.Status, &m.LastSeen, &m.CreatedAt,
	); err != nil {
		return nil, err
	}

	if len(usersJSON) > 0 {
		_ = json.Unmarshal(usersJSON, &m.Users)
	}
	if len(hwJSON) > 0 {
		m.Hardware = &models.HardwareInfo{}
		_ = json.Unmarshal(hwJSON, m.Hardware)
	}
	if len(profileJSON) > 0 {
		_ = json.Unmarshal(profileJSON, &m.Profile)
	}
	return &m, nil
}

func (r *PostgresRepository) ListMachinesWithLatest(ctx context.Context) ([]models.MachineWithSample, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// The lateral join picks the newest sample per machine off the
	// (machine_id, id DESC) index; this runs on every dashboard poll.
	query := `
		SELECT m.id, m.hostname, m.ip_address, m.os_info, m.os_distro, m.os_release,
		       m.device_name, m.users, m.hardware_info, m.profile, m.status, m.last_seen, m.created_at,
		       s.id, s.cpu_usage, s.ram_usage, s.disk_total_gb, s.disk_free_gb,
		       s.disk_details, s.processes, s.network_up_kbps, s.network_down_kbps,
		       s.uptime_seconds, s.active_vpn, s.timestamp
		FROM machines m
		LEFT JOIN LATERAL (
			SELECT * FROM metrics WHERE machine_id = m.id ORDER BY id DESC LIMIT 1
		) s ON true
		ORDER BY LOWER(m.hostname)
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var out []models.MachineWithSample
	for rows.Next() {
		var m models.Machine
		var usersJSON, hwJSON, profileJSON []byte
		var sampleID *int64
		var cpu, ram, diskTotal, diskFree, netUp, netDown *float64
		var diskJSON, procJSON []byte
		var uptime *int64
		var vpn *bool
		var ts *time.Time

		if err := rows.Scan(
			&m.ID, &m.Hostname, &m.IPAddress, &m.OSInfo, &m.OSDistro, &m.OSRelease,
			&m.DeviceName, &usersJSON, &hwJSON, &profileJSON, &m.Status, &m.LastSeen, &m.CreatedAt,
			&sampleID, &cpu, &ram, &diskTotal, &diskFree,
			&diskJSON, &procJSON, &netUp, &netDown,
			&uptime, &vpn, &ts,
		); err != nil {
			return nil, fmt.Errorf("scan machine row: %w", err)
		}

		if len(usersJSON) > 0 {
			_ = json.Unmarshal(usersJSON, &m.Users)
		}
		if len(hwJSON) > 0 {
			m.Hardware = &models.HardwareInfo{}
			_ = json.Unmarshal(hwJSON, m.Hardware)
		}
		if len(profileJSON) > 0 {
			_ = json.Unmarshal(profileJSON, &m.Profile)
		}

		item := models.MachineWithSample{Machine: m}
		if sampleID != nil {
			sample := models.MetricsSample{
				ID:              *sampleID,
				MachineID:       m.ID,
				CPUPct:          *cpu,
				RAMPct:          *ram,
				DiskTotalGB:     *diskTotal,
				DiskFreeGB:      *diskFree,
				NetworkUpKbps:   *netUp,
				NetworkDownKbps: *netDown,
				UptimeSeconds:   *uptime,
				VPNActive:       *vpn,
				Timestamp:       *ts,
			}
			if len(diskJSON) > 0 {
				_ = json.Unmarshal(diskJSON, &sample.DiskVolumes)
			}
			if len(procJSON) > 0 {
				_ = json.Unmarshal(procJSON, &sample.Processes)
			}
			item.Latest = &sample
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateMachineProfile(ctx context.Context, id string, p models.MachineProfile) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	profileJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE machines SET profile = $2 WHERE id = $1`, id, profileJSON)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteMachine(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM machines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete machine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) MarkOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		UPDATE machines SET status = 'offline'
		WHERE status = 'online' AND last_seen < $1
		RETURNING id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark offline: %w", err)
	}
	defer rows.Close()

	var flipped []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan flipped id: %w", err)
		}
		flipped = append(flipped, id)
	}
	return flipped, rows.Err()
}

func (r *PostgresRepository) InsertMetrics(ctx context.Context, s *models.MetricsSample) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	diskJSON, err := json.Marshal(s.DiskVolumes)
	if err != nil {
		return fmt.Errorf("marshal disk details: %w", err)
	}
	procJSON, err := json.Marshal(s.Processes)
	if err != nil {
		return fmt.Errorf("marshal processes: %w", err)
	}

	query := `
		INSERT INTO metrics
			(machine_id, cpu_usage, ram_usage, disk_total_gb, disk_free_gb,
			 disk_details, processes, network_up_kbps, network_down_kbps,
			 uptime_seconds, active_vpn, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	if err := r.pool.QueryRow(ctx, query,
		s.MachineID, s.CPUPct, s.RAMPct, s.DiskTotalGB, s.DiskFreeGB,
		diskJSON, procJSON, s.NetworkUpKbps, s.NetworkDownKbps,
		s.UptimeSeconds, s.VPNActive, s.Timestamp,
	).Scan(&s.ID); err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertEvents(ctx context.Context, events []models.EventSample) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO events (machine_id, event_id, source, message, severity, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.MachineID, e.EventID, e.Source, e.Message, e.Severity, e.Timestamp)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) RecentMetrics(ctx context.Context, machineID string, limit int) ([]models.MetricsSample, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, machine_id, cpu_usage, ram_usage, disk_total_gb, disk_free_gb,
		       disk_details, processes, network_up_kbps, network_down_kbps,
		       uptime_seconds, active_vpn, timestamp
		FROM metrics WHERE machine_id = $1
		ORDER BY id DESC LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent metrics: %w", err)
	}
	defer rows.Close()

	var out []models.MetricsSample
	for rows.Next() {
		var s models.MetricsSample
		var diskJSON, procJSON []byte
		if err := rows.Scan(
			&s.ID, &s.MachineID, &s.CPUPct, &s.RAMPct, &s.DiskTotalGB, &s.DiskFreeGB,
			&diskJSON, &procJSON, &s.NetworkUpKbps, &s.NetworkDownKbps,
			&s.UptimeSeconds, &s.VPNActive, &s.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		if len(diskJSON) > 0 {
			_ = json.Unmarshal(diskJSON, &s.DiskVolumes)
		}
		if len(procJSON) > 0 {
			_ = json.Unmarshal(procJSON, &s.Processes)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) RecentEvents(ctx context.Context, machineID string, limit int) ([]models.EventSample, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, machine_id, event_id, source, message, severity, timestamp
		FROM events WHERE machine_id = $1
		ORDER BY id DESC LIMIT $2
	`, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var out []models.EventSample
	for rows.Next() {
		var e models.EventSample
		if err := rows.Scan(&e.ID, &e.MachineID, &e.EventID, &e.Source, &e.Message, &e.Severity, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) InsertAgentLog(ctx context.Context, l *models.AgentLog) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO agent_logs (machine_id, level, message, stack_trace, timestamp)
		VALUES ($1, $2, $3, $4, NOW())
	`, l.MachineID, l.Level, l.Message, l.StackTrace); err != nil {
		return fmt.Errorf("insert agent log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) HasRecentErrorLog(ctx context.Context, machineID string, since time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM agent_logs
			WHERE machine_id = $1 AND timestamp >= $2
			  AND (LOWER(level) IN ('error', 'critical')
			       OR message ILIKE '%crash%' OR message ILIKE '%exception%')
		)
	`, machineID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check error logs: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) ListPolicies(ctx context.Context) ([]models.AlertPolicy, error) {
	return r.listPolicies(ctx, false)
}

func (r *PostgresRepository) ListEnabledPolicies(ctx context.Context) ([]models.AlertPolicy, error) {
	return r.listPolicies(ctx, true)
}

func (r *PostgresRepository) listPolicies(ctx context.Context, enabledOnly bool) ([]models.AlertPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT id, name, metric, operator, threshold, duration_minutes, priority, enabled, created_at
		FROM alert_policies
	`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	// Deterministic order keeps evaluation runs reproducible.
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []models.AlertPolicy
	for rows.Next() {
		var p models.AlertPolicy
		if err := rows.Scan(&p.ID, &p.Name, &p.Metric, &p.Operator, &p.Threshold,
			&p.SustainMinutes, &p.Priority, &p.Enabled, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan policy row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetPolicy(ctx context.Context, id string) (*models.AlertPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p models.AlertPolicy
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, metric, operator, threshold, duration_minutes, priority, enabled, created_at
		FROM alert_policies WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Metric, &p.Operator, &p.Threshold,
		&p.SustainMinutes, &p.Priority, &p.Enabled, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) CreatePolicy(ctx context.Context, p *models.AlertPolicy) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO alert_policies (id, name, metric, operator, threshold, duration_minutes, priority, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, p.ID, p.Name, p.Metric, p.Operator, p.Threshold, p.SustainMinutes, p.Priority, p.Enabled); err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdatePolicy(ctx context.Context, p *models.AlertPolicy) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE alert_policies
		SET name = $2, metric = $3, operator = $4, threshold = $5,
		    duration_minutes = $6, priority = $7, enabled = $8
		WHERE id = $1
	`, p.ID, p.Name, p.Metric, p.Operator, p.Threshold, p.SustainMinutes, p.Priority, p.Enabled)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeletePolicy(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM alert_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CountPolicies(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alert_policies`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count policies: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) OpenAlert(ctx context.Context, a *models.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// The partial unique index on (machine_id, policy_id) WHERE active
	// makes concurrent opens idempotent.
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO alerts (id, machine_id, policy_id, value, status, created_at)
		VALUES ($1, $2, $3, $4, 'active', $5)
		ON CONFLICT (machine_id, policy_id) WHERE status = 'active' DO NOTHING
	`, a.ID, a.MachineID, a.PolicyID, a.Value, a.OpenedAt); err != nil {
		return fmt.Errorf("open alert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetActiveAlert(ctx context.Context, machineID, policyID string) (*models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a models.Alert
	err := r.pool.QueryRow(ctx, `
		SELECT id, machine_id, policy_id, value, status, created_at, resolved_at
		FROM alerts
		WHERE machine_id = $1 AND policy_id = $2 AND status = 'active'
	`, machineID, policyID).Scan(&a.ID, &a.MachineID, &a.PolicyID, &a.Value, &a.Status, &a.OpenedAt, &a.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active alert: %w", err)
	}
	return &a, nil
}

func (r *PostgresRepository) ResolveAlert(ctx context.Context, machineID, policyID string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_at = $3
		WHERE machine_id = $1 AND policy_id = $2 AND status = 'active'
	`, machineID, policyID, at)
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) ListActiveAlerts(ctx context.Context) ([]models.ActiveAlert, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.machine_id, a.policy_id, a.value, a.status, a.created_at, a.resolved_at,
		       p.name, p.priority, m.hostname
		FROM alerts a
		JOIN alert_policies p ON a.policy_id = p.id
		JOIN machines m ON a.machine_id = m.id
		WHERE a.status = 'active'
		ORDER BY a.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	var out []models.ActiveAlert
	for rows.Next() {
		var a models.ActiveAlert
		if err := rows.Scan(&a.ID, &a.MachineID, &a.PolicyID, &a.Value, &a.Status,
			&a.OpenedAt, &a.ResolvedAt, &a.PolicyName, &a.Priority, &a.Hostname); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountAdmins(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) CreateAdmin(ctx context.Context, u *models.AdminUser) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO admin_users (id, username, password_hash, display_name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (username) DO NOTHING
	`, u.ID, u.Username, u.PasswordHash, u.DisplayName, u.Role)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserExists
	}
	return nil
}

func (r *PostgresRepository) GetAdminByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	return r.getAdmin(ctx, `WHERE username = $1`, username)
}

func (r *PostgresRepository) GetAdminByID(ctx context.Context, id string) (*models.AdminUser, error) {
	return r.getAdmin(ctx, `WHERE id = $1`, id)
}

func (r *PostgresRepository) getAdmin(ctx context.Context, where, arg string) (*models.AdminUser, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var u models.AdminUser
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, display_name, role, created_at
		FROM admin_users `+where,
		arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &u, nil
}

func (r *PostgresRepository) UpdateAdminPassword(ctx context.Context, id, passwordHash string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`UPDATE admin_users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update admin password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateSetupToken(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO setup_tokens (token, used, created_at) VALUES ($1, false, NOW())
	`, token); err != nil {
		return fmt.Errorf("create setup token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetUnusedSetupToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var token string
	err := r.pool.QueryRow(ctx,
		`SELECT token FROM setup_tokens WHERE NOT used LIMIT 1`).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setup token: %w", err)
	}
	return token, nil
}

func (r *PostgresRepository) ConsumeSetupToken(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// Single conditional UPDATE: the token can be consumed exactly once
	// even under concurrent setup attempts.
	tag, err := r.pool.Exec(ctx, `
		UPDATE setup_tokens SET used = true WHERE token = $1 AND NOT used
	`, token)
	if err != nil {
		return false, fmt.Errorf("consume setup token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) ClearSetupTokens(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `DELETE FROM setup_tokens`); err != nil {
		return fmt.Errorf("clear setup tokens: %w", err)
	}
	return nil
}

package models

import "time"

// MachineStatus is the liveness state of a monitored machine.
type MachineStatus string

const (
	StatusOnline  MachineStatus = "online"
	StatusOffline MachineStatus = "offline"
)

// Severity classifies an event sample.
type Severity string

const (
	SeverityInfo    Severity = "Info"
	SeverityWarning Severity = "Warning"
	SeverityError   Severity = "Error"
)

// Priority classifies an alert policy.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Metric keys an alert policy can target.
const (
	MetricCPU     = "cpu"
	MetricRAM     = "ram"
	MetricDisk    = "disk"
	MetricNetwork = "network"
	MetricOffline = "offline"
	MetricCrash   = "crash"
)

// AlertStatus is the lifecycle state of an alert instance.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Machine is the authoritative record for one monitored endpoint.
// The ID is supplied by the agent and is host-derived; it is stable per
// install but not guaranteed collision-free across a fleet (two machines
// named the same collide). See DESIGN.md for the open question on
// agent-generated UUIDs.
type Machine struct {
	ID         string         `json:"id"`
	Hostname   string         `json:"hostname"`
	IPAddress  string         `json:"ip_address,omitempty"`
	OSInfo     string         `json:"os_info,omitempty"`
	OSDistro   string         `json:"os_distro,omitempty"`
	OSRelease  string         `json:"os_release,omitempty"`
	DeviceName string         `json:"device_name,omitempty"`
	Users      []string       `json:"users,omitempty"`
	Hardware   *HardwareInfo  `json:"hardware_info,omitempty"`
	Profile    MachineProfile `json:"profile"`
	Status     MachineStatus  `json:"status"`
	LastSeen   time.Time      `json:"last_seen"`
	CreatedAt  time.Time      `json:"created_at"`
}

// MachineProfile holds the operator-editable fields of a machine.
type MachineProfile struct {
	Nickname string `json:"nickname,omitempty"`
	Role     string `json:"role,omitempty"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// HardwareInfo is the agent-reported hardware inventory snapshot.
// Every field is always present after sanitization so consumers never
// have to nil-check nested structures.
type HardwareInfo struct {
	CPU         CPUInfo         `json:"cpu"`
	Motherboard MotherboardInfo `json:"motherboard"`
	RAM         RAMInfo         `json:"ram"`
	Drives      []DriveInfo     `json:"drives"`
	Network     []NICInfo       `json:"network"`
	GPUs        []GPUInfo       `json:"gpu"`
}

type CPUInfo struct {
	Name    string `json:"name"`
	Cores   int    `json:"cores"`
	Logical int    `json:"logical"`
	Socket  string `json:"socket"`
}

type MotherboardInfo struct {
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	Version      string `json:"version"`
	Serial       string `json:"serial"`
}

type RAMInfo struct {
	Modules   []RAMModule `json:"modules"`
	SlotsUsed int         `json:"slots_used"`
}

type RAMModule struct {
	Capacity     string `json:"capacity"`
	Speed        string `json:"speed"`
	Manufacturer string `json:"manufacturer"`
	FormFactor   string `json:"form_factor"`
	PartNumber   string `json:"part_number"`
}

type DriveInfo struct {
	Model        string `json:"model"`
	Size         string `json:"size"`
	Serial       string `json:"serial"`
	Manufacturer string `json:"manufacturer"`
	Type         string `json:"type"`
}

type NICInfo struct {
	Interface string `json:"interface"`
	Type      string `json:"type"`
	IPAddress string `json:"ip_address"`
	MAC       string `json:"mac"`
	SpeedMbps int    `json:"speed_mbps"`
}

type GPUInfo struct {
	Name          string `json:"name"`
	Memory        string `json:"memory"`
	DriverVersion string `json:"driver_version"`
}

// MetricsSample is one immutable telemetry tick for a machine.
type MetricsSample struct {
	ID              int64           `json:"id,omitempty"`
	MachineID       string          `json:"machine_id"`
	CPUPct          float64         `json:"cpu_usage"`
	RAMPct          float64         `json:"ram_usage"`
	DiskTotalGB     float64         `json:"disk_total_gb"`
	DiskFreeGB      float64         `json:"disk_free_gb"`
	DiskVolumes     []DiskVolume    `json:"disk_details,omitempty"`
	Processes       []ProcessSample `json:"processes,omitempty"`
	NetworkUpKbps   float64         `json:"network_up_kbps"`
	NetworkDownKbps float64         `json:"network_down_kbps"`
	UptimeSeconds   int64           `json:"uptime_seconds"`
	VPNActive       bool            `json:"active_vpn"`
	Timestamp       time.Time       `json:"timestamp"`
}

// DiskUsedPct derives the overall disk usage percentage from the totals.
// Returns 0 when the agent reported no capacity.
func (s *MetricsSample) DiskUsedPct() float64 {
	if s.DiskTotalGB <= 0 {
		return 0
	}
	pct := (s.DiskTotalGB - s.DiskFreeGB) / s.DiskTotalGB * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

type DiskVolume struct {
	Mount   string  `json:"mount"`
	Label   string  `json:"label"`
	Type    string  `json:"type"`
	TotalGB float64 `json:"total_gb"`
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
	Percent float64 `json:"percent"`
}

type ProcessSample struct {
	Name  string  `json:"name"`
	CPU   float64 `json:"cpu"`
	Mem   float64 `json:"mem"`
	MemMB float64 `json:"mem_mb"`
	PID   int     `json:"pid"`
}

// EventSample is one OS-level log event surfaced by an agent, or a
// synthetic event appended by the alert evaluator.
type EventSample struct {
	ID        int64     `json:"id,omitempty"`
	MachineID string    `json:"machine_id"`
	EventID   int       `json:"event_id"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentLog is an operational log line reported by an agent about itself.
type AgentLog struct {
	ID         int64     `json:"id,omitempty"`
	MachineID  string    `json:"machine_id"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	StackTrace string    `json:"stack_trace,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertPolicy is an operator-defined threshold rule. It is pure
// configuration; all duration semantics live in the evaluator.
type AlertPolicy struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Metric         string    `json:"metric"`
	Operator       string    `json:"operator"`
	Threshold      float64   `json:"threshold"`
	SustainMinutes int       `json:"duration_minutes"`
	Priority       Priority  `json:"priority"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

// Alert is one concrete firing of a policy against a machine. Alerts are
// never deleted, only resolved.
type Alert struct {
	ID         string      `json:"id"`
	MachineID  string      `json:"machine_id"`
	PolicyID   string      `json:"policy_id"`
	Value      float64     `json:"value"`
	Status     AlertStatus `json:"status"`
	OpenedAt   time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

// ActiveAlert is an alert joined with its policy and machine for display.
type ActiveAlert struct {
	Alert
	PolicyName string   `json:"policy_name"`
	Priority   Priority `json:"priority"`
	Hostname   string   `json:"hostname"`
}

// MachineWithSample pairs a machine with its most recent metrics sample
// for the fleet snapshot view.
type MachineWithSample struct {
	Machine
	Latest *MetricsSample `json:"metrics,omitempty"`
}

// MachineDetail is the drill-down view: the machine plus bounded recent
// history windows.
type MachineDetail struct {
	Machine
	Metrics []MetricsSample `json:"metrics"`
	Events  []EventSample   `json:"events"`
}

// AdminUser is a dashboard operator account.
type AdminUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// SetupToken gates creation of the first operator account. At most one
// unused token exists, and only while the operator set is empty.
type SetupToken struct {
	Token     string    `json:"token"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

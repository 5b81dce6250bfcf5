// Package sanitize is the boundary between untrusted agent data and data
// the rest of the system may trust. Every function is deterministic,
// side-effect-free and never fails: malformed input is clamped, coerced
// or truncated into a well-formed value.
package sanitize

import (
	"math"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/fleetpulse/fleetpulse/internal/models"
)

// Structural bounds applied to agent payloads. List caps keep a hostile or
// buggy agent from inflating storage and dashboard rendering.
const (
	MaxStringLen   = 255
	MaxShortLen    = 100
	MaxTypeLen     = 50
	MaxProcesses   = 50
	MaxDiskVolumes = 26
	MaxRAMModules  = 8
	MaxDrives      = 16
	MaxNICs        = 16
	MaxGPUs        = 4
)

// Float coerces an arbitrary JSON value to a finite, non-negative float.
// Non-numeric input and NaN/Inf coerce to 0.
func Float(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// Percent coerces to float and clamps to [0,100].
func Percent(v any) float64 {
	f := Float(v)
	if f > 100 {
		return 100
	}
	return f
}

// Int coerces to a non-negative integer.
func Int(v any) int {
	return int(Float(v))
}

// Bool coerces truthy values: true, non-zero numbers, "true"/"1".
func Bool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x == "true" || x == "1"
	default:
		return false
	}
}

// String coerces to a string bounded to max characters. Numbers are
// formatted; anything else yields the fallback.
func String(v any, max int, fallback string) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	default:
		s = ""
	}
	if s == "" {
		s = fallback
	}
	if len(s) > max {
		// Cut on a rune boundary so the result stays valid UTF-8.
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func field(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// Processes maps, sorts and bounds a raw process list: CPU descending,
// ties broken by memory descending, truncated to the top MaxProcesses.
func Processes(raw []any) []models.ProcessSample {
	out := make([]models.ProcessSample, 0, len(raw))
	for _, item := range raw {
		p := object(item)
		if p == nil {
			continue
		}
		out = append(out, models.ProcessSample{
			Name:  String(field(p, "name"), MaxStringLen, "Unknown"),
			CPU:   Percent(field(p, "cpu")),
			Mem:   Percent(field(p, "mem")),
			MemMB: Float(field(p, "mem_mb")),
			PID:   Int(field(p, "pid")),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CPU != out[j].CPU {
			return out[i].CPU > out[j].CPU
		}
		return out[i].Mem > out[j].Mem
	})
	if len(out) > MaxProcesses {
		out = out[:MaxProcesses]
	}
	return out
}

// DiskVolumes bounds the per-volume disk breakdown. The cap covers drive
// letters A-Z on Windows.
func DiskVolumes(raw []any) []models.DiskVolume {
	out := make([]models.DiskVolume, 0, len(raw))
	for _, item := range raw {
		d := object(item)
		if d == nil {
			continue
		}
		out = append(out, models.DiskVolume{
			Mount:   String(field(d, "mount"), MaxStringLen, "/"),
			Label:   String(field(d, "label"), MaxStringLen, ""),
			Type:    String(field(d, "type"), MaxTypeLen, "Unknown"),
			TotalGB: Float(field(d, "total_gb")),
			UsedGB:  Float(field(d, "used_gb")),
			FreeGB:  Float(field(d, "free_gb")),
			Percent: Percent(field(d, "percent")),
		})
		if len(out) == MaxDiskVolumes {
			break
		}
	}
	return out
}

// Hardware coerces a raw hardware inventory into a well-formed structure.
// Wrong-type or absent input yields the zero structure, never nil, so
// downstream consumers can treat every field as always present.
func Hardware(raw map[string]any) *models.HardwareInfo {
	hw := &models.HardwareInfo{
		Drives:  []models.DriveInfo{},
		Network: []models.NICInfo{},
		GPUs:    []models.GPUInfo{},
	}
	hw.RAM.Modules = []models.RAMModule{}

	// Agents nest the inventory under "all_details"; accept both shapes.
	details := object(field(raw, "all_details"))
	if details == nil {
		details = raw
	}
	if details == nil {
		return hw
	}

	if cpu := object(field(details, "cpu")); cpu != nil {
		hw.CPU = models.CPUInfo{
			Name:    String(field(cpu, "name"), MaxStringLen, "Unknown CPU"),
			Cores:   maxInt(1, Int(field(cpu, "cores"))),
			Logical: maxInt(1, Int(field(cpu, "logical"))),
			Socket:  String(field(cpu, "socket"), MaxShortLen, "Unknown"),
		}
	}

	if mb := object(field(details, "motherboard")); mb != nil {
		hw.Motherboard = models.MotherboardInfo{
			Manufacturer: String(field(mb, "manufacturer"), MaxStringLen, "Unknown"),
			Product:      String(field(mb, "product"), MaxStringLen, "Unknown"),
			Version:      String(field(mb, "version"), MaxShortLen, "N/A"),
			Serial:       String(field(mb, "serial"), MaxStringLen, "N/A"),
		}
	}

	if ram := object(field(details, "ram")); ram != nil {
		for _, item := range list(field(ram, "modules")) {
			m := object(item)
			if m == nil {
				continue
			}
			hw.RAM.Modules = append(hw.RAM.Modules, models.RAMModule{
				Capacity:     String(field(m, "capacity"), MaxShortLen, "Unknown"),
				Speed:        String(field(m, "speed"), MaxShortLen, "Unknown"),
				Manufacturer: String(field(m, "manufacturer"), MaxStringLen, "Unknown"),
				FormFactor:   String(field(m, "form_factor"), MaxShortLen, "DIMM"),
				PartNumber:   String(field(m, "part_number"), MaxShortLen, "N/A"),
			})
			if len(hw.RAM.Modules) == MaxRAMModules {
				break
			}
		}
		hw.RAM.SlotsUsed = Int(field(ram, "slots_used"))
	}

	for _, item := range list(field(details, "drives")) {
		d := object(item)
		if d == nil {
			continue
		}
		hw.Drives = append(hw.Drives, models.DriveInfo{
			Model:        String(field(d, "model"), MaxStringLen, "Unknown"),
			Size:         String(field(d, "size"), MaxShortLen, "Unknown"),
			Serial:       String(field(d, "serial"), MaxStringLen, "N/A"),
			Manufacturer: String(field(d, "manufacturer"), MaxStringLen, "Unknown"),
			Type:         String(field(d, "type"), MaxTypeLen, "HDD"),
		})
		if len(hw.Drives) == MaxDrives {
			break
		}
	}

	for _, item := range list(field(details, "network")) {
		n := object(item)
		if n == nil {
			continue
		}
		hw.Network = append(hw.Network, models.NICInfo{
			Interface: String(field(n, "interface"), MaxShortLen, "Unknown"),
			Type:      String(field(n, "type"), MaxTypeLen, "Ethernet"),
			IPAddress: String(field(n, "ip_address"), MaxTypeLen, "N/A"),
			MAC:       String(field(n, "mac"), 20, "N/A"),
			SpeedMbps: Int(field(n, "speed_mbps")),
		})
		if len(hw.Network) == MaxNICs {
			break
		}
	}

	for _, item := range list(field(details, "gpu")) {
		g := object(item)
		if g == nil {
			continue
		}
		hw.GPUs = append(hw.GPUs, models.GPUInfo{
			Name:          String(field(g, "name"), MaxStringLen, "Unknown GPU"),
			Memory:        String(field(g, "memory"), MaxShortLen, "Unknown"),
			DriverVersion: String(field(g, "driver_version"), MaxShortLen, "N/A"),
		})
		if len(hw.GPUs) == MaxGPUs {
			break
		}
	}

	return hw
}

// Sample coerces a raw metrics payload into a bounded MetricsSample.
// The timestamp is assigned by the server, not trusted from the agent,
// since clock skew across a fleet is expected.
func Sample(machineID string, raw map[string]any, now time.Time) models.MetricsSample {
	return models.MetricsSample{
		MachineID:       machineID,
		CPUPct:          Percent(field(raw, "cpu_usage")),
		RAMPct:          Percent(field(raw, "ram_usage")),
		DiskTotalGB:     Float(field(raw, "disk_total_gb")),
		DiskFreeGB:      Float(field(raw, "disk_free_gb")),
		DiskVolumes:     DiskVolumes(list(field(raw, "disk_details"))),
		Processes:       Processes(list(field(raw, "processes"))),
		NetworkUpKbps:   Float(field(raw, "network_up_kbps")),
		NetworkDownKbps: Float(field(raw, "network_down_kbps")),
		UptimeSeconds:   int64(Float(field(raw, "uptime_seconds"))),
		VPNActive:       Bool(field(raw, "active_vpn")),
		Timestamp:       now,
	}
}

// Events coerces a raw event list. Unknown severities degrade to Info.
func Events(machineID string, raw []any, now time.Time) []models.EventSample {
	out := make([]models.EventSample, 0, len(raw))
	for _, item := range raw {
		e := object(item)
		if e == nil {
			continue
		}
		sev := models.Severity(String(field(e, "severity"), MaxTypeLen, string(models.SeverityInfo)))
		switch sev {
		case models.SeverityInfo, models.SeverityWarning, models.SeverityError:
		default:
			sev = models.SeverityInfo
		}
		out = append(out, models.EventSample{
			MachineID: machineID,
			EventID:   Int(field(e, "event_id")),
			Source:    String(field(e, "source"), MaxStringLen, "Unknown"),
			Message:   String(field(e, "message"), MaxStringLen, ""),
			Severity:  sev,
			Timestamp: now,
		})
	}
	return out
}

// Identity applies string bounds to the agent-supplied machine identity
// fields and returns a machine record ready for upsert. hardware is nil
// when the payload carried no inventory, which preserves the previously
// stored inventory on merge.
func Identity(raw map[string]any) models.Machine {
	m := models.Machine{
		ID:         String(field(raw, "id"), MaxStringLen, ""),
		Hostname:   String(field(raw, "hostname"), MaxStringLen, "Unknown"),
		IPAddress:  String(field(raw, "ip"), MaxTypeLen, ""),
		OSInfo:     String(field(raw, "os_info"), MaxStringLen, ""),
		OSDistro:   String(field(raw, "os_distro"), MaxStringLen, ""),
		OSRelease:  String(field(raw, "os_release"), MaxStringLen, ""),
		DeviceName: String(field(raw, "device_name"), MaxStringLen, ""),
	}
	for _, u := range list(field(raw, "users")) {
		if s := String(u, MaxStringLen, ""); s != "" {
			m.Users = append(m.Users, s)
		}
	}
	if hwRaw, ok := raw["hardware_info"]; ok {
		if hwMap := object(hwRaw); hwMap != nil {
			m.Hardware = Hardware(hwMap)
		}
	}
	return m
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package seeder generates a synthetic fleet and feeds it through the
// public telemetry endpoint, exercising the same path real agents use.
// Intended for development and demo environments.
package seeder

import (
	"fmt"
	"math/rand"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// fakeMachine holds the stable identity and drifting metric state for one
// simulated agent. Metrics follow a bounded random walk so consecutive
// samples look like a real machine rather than white noise.
type fakeMachine struct {
	id         string
	hostname   string
	ip         string
	osInfo     string
	osDistro   string
	osRelease  string
	deviceName string
	users      []string

	cpu         float64
	ram         float64
	diskTotalGB float64
	diskUsedGB  float64
	uptime      int64
	vpn         bool

	sentHardware bool
}

var osFlavors = []struct {
	info    string
	distro  string
	release string
}{
	{"Linux", "Ubuntu", "24.04"},
	{"Linux", "Debian", "12"},
	{"Linux", "Fedora", "41"},
	{"Windows", "Windows 11 Pro", "23H2"},
	{"Windows", "Windows 10 Enterprise", "22H2"},
	{"Darwin", "macOS Sequoia", "15.2"},
}

func newFakeMachine() *fakeMachine {
	flavor := osFlavors[rand.Intn(len(osFlavors))]
	total := float64(rand.Intn(1792) + 256)

	return &fakeMachine{
		id:          uuid.New().String(),
		hostname:    fmt.Sprintf("%s-%02d", gofakeit.AdjectiveDescriptive(), rand.Intn(100)),
		ip:          gofakeit.IPv4Address(),
		osInfo:      flavor.info,
		osDistro:    flavor.distro,
		osRelease:   flavor.release,
		deviceName:  gofakeit.AppName(),
		users:       []string{gofakeit.Username()},
		cpu:         rand.Float64() * 40,
		ram:         20 + rand.Float64()*40,
		diskTotalGB: total,
		diskUsedGB:  total * (0.2 + rand.Float64()*0.5),
		uptime:      int64(rand.Intn(30 * 24 * 3600)),
		vpn:         rand.Float32() < 0.3,
	}
}

// drift advances the walk one step. Values stay inside their natural
// bounds; disk only ever grows.
func (m *fakeMachine) drift() {
	m.cpu = clampPct(m.cpu + (rand.Float64()*2-1)*15)
	m.ram = clampPct(m.ram + (rand.Float64()*2-1)*8)
	m.diskUsedGB += rand.Float64() * 0.05
	if m.diskUsedGB > m.diskTotalGB {
		m.diskUsedGB = m.diskTotalGB
	}
	m.uptime += int64(rand.Intn(60) + 30)
}

// payload builds the telemetry envelope this machine would POST: a
// machine section, a metrics section and an occasional event batch.
// Hardware inventory rides along only on the first payload, the way real
// agents send it once per boot.
func (m *fakeMachine) payload() map[string]any {
	m.drift()

	machine := map[string]any{
		"id":          m.id,
		"hostname":    m.hostname,
		"ip":          m.ip,
		"os_info":     m.osInfo,
		"os_distro":   m.osDistro,
		"os_release":  m.osRelease,
		"device_name": m.deviceName,
		"users":       toAnySlice(m.users),
	}
	if !m.sentHardware {
		machine["hardware_info"] = m.hardwareInfo()
		m.sentHardware = true
	}

	body := map[string]any{
		"machine": machine,
		"metrics": map[string]any{
			"cpu_usage":         m.cpu,
			"ram_usage":         m.ram,
			"disk_total_gb":     m.diskTotalGB,
			"disk_free_gb":      m.diskTotalGB - m.diskUsedGB,
			"disk_details":      m.diskDetails(),
			"processes":         fakeProcesses(),
			"network_up_kbps":   rand.Float64() * 2000,
			"network_down_kbps": rand.Float64() * 20000,
			"uptime_seconds":    float64(m.uptime),
			"active_vpn":        m.vpn,
		},
	}
	if rand.Float32() < 0.1 {
		body["events"] = fakeEvents()
	}

	return body
}

func (m *fakeMachine) diskDetails() []any {
	return []any{
		map[string]any{
			"mount":    "/",
			"label":    "system",
			"type":     "ext4",
			"total_gb": m.diskTotalGB,
			"used_gb":  m.diskUsedGB,
			"free_gb":  m.diskTotalGB - m.diskUsedGB,
			"percent":  m.diskUsedGB / m.diskTotalGB * 100,
		},
	}
}

func (m *fakeMachine) hardwareInfo() map[string]any {
	cores := []int{4, 6, 8, 12, 16}[rand.Intn(5)]
	return map[string]any{
		"all_details": map[string]any{
			"cpu": map[string]any{
				"name":    gofakeit.RandomString([]string{"Intel Core i7-13700K", "AMD Ryzen 7 7700X", "Apple M3 Pro", "Intel Xeon E-2388G"}),
				"cores":   float64(cores),
				"logical": float64(cores * 2),
				"socket":  "LGA1700",
			},
			"ram": map[string]any{
				"slots_used": float64(2),
				"modules": []any{
					map[string]any{
						"capacity":     "16 GB",
						"speed":        "3200 MT/s",
						"manufacturer": gofakeit.Company(),
						"form_factor":  "DIMM",
					},
				},
			},
			"drives": []any{
				map[string]any{
					"model":        gofakeit.RandomString([]string{"Samsung 980 Pro", "WD Black SN850X", "Crucial P5 Plus"}),
					"size":         fmt.Sprintf("%.0f GB", m.diskTotalGB),
					"serial":       gofakeit.UUID()[:12],
					"manufacturer": gofakeit.Company(),
					"type":         "SSD",
				},
			},
			"network": []any{
				map[string]any{
					"interface":  "eth0",
					"type":       "Ethernet",
					"ip_address": m.ip,
					"mac":        gofakeit.MacAddress(),
					"speed_mbps": float64(1000),
				},
			},
		},
	}
}

func fakeProcesses() []any {
	names := []string{"chrome", "node", "postgres", "dockerd", "java", "python3", "slack", "code"}
	count := rand.Intn(6) + 3
	out := make([]any, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, map[string]any{
			"name":   names[rand.Intn(len(names))],
			"cpu":    rand.Float64() * 25,
			"mem":    rand.Float64() * 10,
			"mem_mb": rand.Float64() * 2048,
			"pid":    float64(rand.Intn(65535)),
		})
	}
	return out
}

func fakeEvents() []any {
	samples := []struct {
		id       int
		source   string
		message  string
		severity string
	}{
		{7031, "Service Control Manager", "The service terminated unexpectedly", "error"},
		{1074, "User32", "The process initiated a restart", "info"},
		{4625, "Security", "An account failed to log on", "warning"},
		{6008, "EventLog", "The previous system shutdown was unexpected", "error"},
		{36887, "Schannel", "A fatal alert was received", "warning"},
	}
	s := samples[rand.Intn(len(samples))]
	return []any{
		map[string]any{
			"event_id": float64(s.id),
			"source":   s.source,
			"message":  s.message,
			"severity": s.severity,
		},
	}
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

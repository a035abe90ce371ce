// Package system reads host health on the Raspberry Pi 5: CPU
// temperature, disk usage and firmware throttling.
package system

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Limits past which Check reports the host as unhealthy.
const (
	MaxCPUTempC    = 80.0
	MaxDiskUsedPct = 95.0
)

// HealthStatus represents the current system health snapshot.
type HealthStatus struct {
	DiskUsedPct   float64   `json:"disk_used_pct"`
	DiskFreeBytes uint64    `json:"disk_free_bytes"`
	CPUTempC      float64   `json:"cpu_temp_c"`
	Throttled     bool      `json:"throttled"`
	Timestamp     time.Time `json:"timestamp"`
}

// Problems lists every limit the snapshot is past.
func (h HealthStatus) Problems() []string {
	var out []string
	if h.CPUTempC >= MaxCPUTempC {
		out = append(out, fmt.Sprintf("cpu at %.1f°C", h.CPUTempC))
	}
	if h.DiskUsedPct >= MaxDiskUsedPct {
		out = append(out, fmt.Sprintf("disk %.0f%% full", h.DiskUsedPct))
	}
	if h.Throttled {
		out = append(out, "cpu throttled")
	}
	return out
}

// Probe knows where to read each health value. The zero value is not
// usable; start from DefaultProbe.
type Probe struct {
	ThermalPath string
	DiskPath    string
	Run         func(name string, args ...string) ([]byte, error)
	Logger      *slog.Logger
}

// DefaultProbe reads the Pi's thermal zone and shells out to df and
// vcgencmd.
func DefaultProbe(logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		ThermalPath: "/sys/class/thermal/thermal_zone0/temp",
		DiskPath:    "/",
		Run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
		Logger: logger.With("component", "system"),
	}
}

// CPUTemp returns the temperature in degrees Celsius.
func (p *Probe) CPUTemp() (float64, error) {
	data, err := os.ReadFile(p.ThermalPath)
	if err != nil {
		return 0, fmt.Errorf("read cpu temp: %w", err)
	}
	return parseMilliCelsius(string(data))
}

func parseMilliCelsius(raw string) (float64, error) {
	milliC, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse cpu temp: %w", err)
	}
	return milliC / 1000.0, nil
}

// DiskUsage returns the usage percentage and free bytes for the
// filesystem holding DiskPath.
func (p *Probe) DiskUsage() (usedPct float64, freeBytes uint64, err error) {
	path := p.DiskPath
	if path == "" {
		path = "/"
	}
	out, err := p.Run("df", "--output=pcent,avail", "-B1", path)
	if err != nil {
		return 0, 0, fmt.Errorf("df command failed: %w", err)
	}
	return parseDF(string(out))
}

func parseDF(out string) (float64, uint64, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, 0, errors.New("unexpected df output")
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 2 {
		return 0, 0, errors.New("unexpected df fields")
	}

	pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse disk pct: %w", err)
	}
	free, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse disk free: %w", err)
	}
	return pct, free, nil
}

// Throttled asks the firmware whether the CPU is being throttled for
// temperature or power.
func (p *Probe) Throttled() (bool, error) {
	out, err := p.Run("vcgencmd", "get_throttled")
	if err != nil {
		return false, fmt.Errorf("vcgencmd failed: %w", err)
	}
	return parseThrottled(string(out))
}

// parseThrottled reads "throttled=0x50005".
func parseThrottled(out string) (bool, error) {
	parts := strings.SplitN(strings.TrimSpace(out), "=", 2)
	if len(parts) < 2 {
		return false, errors.New("unexpected vcgencmd output")
	}
	val, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 64)
	if err != nil {
		return false, fmt.Errorf("parse throttle value: %w", err)
	}
	return val != 0, nil
}

// Check takes a full snapshot. Probes that fail are logged and left zero,
// since most of them only exist on the Pi.
func (p *Probe) Check() HealthStatus {
	status := HealthStatus{Timestamp: time.Now()}

	if temp, err := p.CPUTemp(); err == nil {
		status.CPUTempC = temp
	} else {
		p.Logger.Debug("temp read failed", "error", err)
	}

	if pct, free, err := p.DiskUsage(); err == nil {
		status.DiskUsedPct = pct
		status.DiskFreeBytes = free
	} else {
		p.Logger.Debug("disk read failed", "error", err)
	}

	if throttled, err := p.Throttled(); err == nil {
		status.Throttled = throttled
	} else {
		p.Logger.Debug("throttle check failed", "error", err)
	}

	p.Logger.Debug("health",
		"temp_c", status.CPUTempC,
		"disk_pct", status.DiskUsedPct,
		"throttled", status.Throttled,
	)
	return status
}

// EnsureDir creates a directory and all parents if it does not exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

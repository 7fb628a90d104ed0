package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/fleet"
)

// Collector samples the machine's metrics for one report.
type Collector interface {
	Collect(ctx context.Context) (fleet.Report, error)
}

// ProcCollector reads Linux metrics from /proc and statfs. The sample paths
// are fields so tests can point them at fixtures.
type ProcCollector struct {
	StatPath    string
	MeminfoPath string
	UptimePath  string
	DiskMount   string
	// SampleGap is the window between the two /proc/stat reads used to
	// derive CPU utilisation.
	SampleGap time.Duration
}

// NewProcCollector returns a collector with the standard Linux paths.
func NewProcCollector() *ProcCollector {
	return &ProcCollector{
		StatPath:    "/proc/stat",
		MeminfoPath: "/proc/meminfo",
		UptimePath:  "/proc/uptime",
		DiskMount:   "/",
		SampleGap:   500 * time.Millisecond,
	}
}

func (p *ProcCollector) Collect(ctx context.Context) (fleet.Report, error) {
	cpu, err := p.cpuPercent(ctx)
	if err != nil {
		return fleet.Report{}, fmt.Errorf("sample cpu: %w", err)
	}
	ram, err := p.ramPercent()
	if err != nil {
		return fleet.Report{}, fmt.Errorf("sample ram: %w", err)
	}
	disk, err := p.diskPercent()
	if err != nil {
		return fleet.Report{}, fmt.Errorf("sample disk: %w", err)
	}
	uptime, err := p.uptimeSeconds()
	if err != nil {
		return fleet.Report{}, fmt.Errorf("sample uptime: %w", err)
	}
	seconds, _ := json.Marshal(uptime)
	hms, _ := json.Marshal(formatUptimeHMS(uptime))
	extra := map[string]json.RawMessage{
		"uptime_seconds": seconds,
		"uptime_hms":     hms,
	}
	return fleet.Report{CPUPercent: cpu, RAMPercent: ram, DiskPercent: disk, Extra: extra}, nil
}

type cpuSample struct {
	idle  uint64
	total uint64
}

func (p *ProcCollector) cpuPercent(ctx context.Context) (float64, error) {
	first, err := readCPUSample(p.StatPath)
	if err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(p.SampleGap):
	}
	second, err := readCPUSample(p.StatPath)
	if err != nil {
		return 0, err
	}

	totalDelta := second.total - first.total
	if totalDelta == 0 {
		return 0, nil
	}
	idleDelta := second.idle - first.idle
	busy := float64(totalDelta-idleDelta) / float64(totalDelta) * 100
	return clampPercent(busy), nil
}

func readCPUSample(path string) (cpuSample, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cpuSample{}, err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		var s cpuSample
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return cpuSample{}, fmt.Errorf("parse %s field %d: %w", path, i, err)
			}
			s.total += v
			// idle + iowait
			if i == 3 || i == 4 {
				s.idle += v
			}
		}
		return s, nil
	}
	return cpuSample{}, fmt.Errorf("no aggregate cpu line in %s", path)
}

func (p *ProcCollector) ramPercent() (float64, error) {
	raw, err := os.ReadFile(p.MeminfoPath)
	if err != nil {
		return 0, err
	}
	var total, available float64
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("MemTotal missing in %s", p.MeminfoPath)
	}
	return clampPercent((total - available) / total * 100), nil
}

func (p *ProcCollector) diskPercent() (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(p.DiskMount, &st); err != nil {
		return 0, err
	}
	total := float64(st.Blocks) * float64(st.Bsize)
	if total == 0 {
		return 0, fmt.Errorf("statfs %s reports zero capacity", p.DiskMount)
	}
	free := float64(st.Bavail) * float64(st.Bsize)
	return clampPercent((total - free) / total * 100), nil
}

// uptimeSeconds reads the first field of /proc/uptime, whole seconds since
// boot.
func (p *ProcCollector) uptimeSeconds() (int64, error) {
	raw, err := os.ReadFile(p.UptimePath)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%s is empty", p.UptimePath)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", p.UptimePath, err)
	}
	return int64(v), nil
}

// formatUptimeHMS renders seconds since boot as HH:MM:SS. Hours keep growing
// past 24, matching what fleet dashboards expect for long-lived machines.
func formatUptimeHMS(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// MachineID derives the machine identifier from the hostname.
func MachineID() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(host)), nil
}

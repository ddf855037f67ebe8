// Package monitor implements the process supervisor of spec.md §4.K:
// job-registry reconciliation against bus-reported $state, periodic
// self-checks, a physical button handler, remote job launch, and LED
// error-code signaling. The self-checks read /proc and /sys the same
// way the teacher's collector package samples procfs, simplified to a
// single-point read since these are threshold checks, not profiling.
package monitor

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SelfCheckReport is one pass of spec.md §4.K item 2's 12-hourly report.
type SelfCheckReport struct {
	DiskUsedPct     float64
	CPUPct          float64
	MemoryUsedPct   float64
	CPUTemperatureC float64
	PowerThrottled  bool
	LeaderReachable bool

	Warnings []string
}

// Thresholds past which SelfCheckReport adds a warning.
const (
	DiskWarnPct     = 90.0
	MemoryWarnPct   = 90.0
	CPUTempWarnC    = 75.0
	DiskAlmostFullPct = 95.0 // triggers LED error code 3
)

// SelfChecker reads procfs/sysfs under the given roots (overridable for
// tests) and an injected leader-reachability/power-throttle probe.
type SelfChecker struct {
	ProcRoot string
	SysRoot  string

	CheckLeaderReachable func() bool
	CheckPowerThrottled  func() bool
}

// NewSelfChecker builds a checker rooted at the real /proc and /sys.
func NewSelfChecker(checkLeader func() bool, checkThrottle func() bool) *SelfChecker {
	return &SelfChecker{
		ProcRoot:             "/proc",
		SysRoot:              "/sys",
		CheckLeaderReachable: checkLeader,
		CheckPowerThrottled:  checkThrottle,
	}
}

// Run executes one full self-check pass.
func (s *SelfChecker) Run() SelfCheckReport {
	var r SelfCheckReport
	r.DiskUsedPct = s.diskUsedPct("/")
	r.CPUPct = s.cpuUsedPct()
	r.MemoryUsedPct = s.memoryUsedPct()
	r.CPUTemperatureC = s.cpuTemperature()

	if s.CheckLeaderReachable != nil {
		r.LeaderReachable = s.CheckLeaderReachable()
	} else {
		r.LeaderReachable = true
	}
	if s.CheckPowerThrottled != nil {
		r.PowerThrottled = s.CheckPowerThrottled()
	}

	if r.DiskUsedPct >= DiskWarnPct {
		r.Warnings = append(r.Warnings, "disk usage above warning threshold")
	}
	if r.MemoryUsedPct >= MemoryWarnPct {
		r.Warnings = append(r.Warnings, "memory usage above warning threshold")
	}
	if r.CPUTemperatureC >= CPUTempWarnC {
		r.Warnings = append(r.Warnings, "CPU temperature above warning threshold")
	}
	if r.PowerThrottled {
		r.Warnings = append(r.Warnings, "power throttling detected")
	}
	if !r.LeaderReachable {
		r.Warnings = append(r.Warnings, "leader unreachable")
	}
	return r
}

// DiskAlmostFull reports whether disk usage has crossed the threshold
// that triggers LED error code 3 (spec.md §4.K item 5).
func (r SelfCheckReport) DiskAlmostFull() bool {
	return r.DiskUsedPct >= DiskAlmostFullPct
}

func (s *SelfChecker) memoryUsedPct() float64 {
	f, err := os.Open(filepath.Join(s.ProcRoot, "meminfo"))
	if err != nil {
		return 0
	}
	defer f.Close()

	var totalKB, availableKB float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		val, _ := strconv.ParseFloat(fields[1], 64)
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			totalKB = val
		case "MemAvailable":
			availableKB = val
		}
	}
	if totalKB == 0 {
		return 0
	}
	return (totalKB - availableKB) / totalKB * 100
}

func (s *SelfChecker) cpuUsedPct() float64 {
	data, err := os.ReadFile(filepath.Join(s.ProcRoot, "loadavg"))
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	// load-average-as-percent is a coarse single-point proxy; a proper
	// two-point /proc/stat delta sample is unnecessary for a threshold
	// check run once every 12 hours.
	load1, _ := strconv.ParseFloat(fields[0], 64)
	pct := load1 * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (s *SelfChecker) diskUsedPct(path string) float64 {
	var stat statfsResult
	if err := statfs(path, &stat); err != nil {
		return 0
	}
	if stat.Blocks == 0 {
		return 0
	}
	used := stat.Blocks - stat.BlocksFree
	return float64(used) / float64(stat.Blocks) * 100
}

func (s *SelfChecker) cpuTemperature() float64 {
	raw, err := os.ReadFile(filepath.Join(s.SysRoot, "class/thermal/thermal_zone0/temp"))
	if err != nil {
		return 0
	}
	milliC, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0
	}
	return milliC / 1000.0
}

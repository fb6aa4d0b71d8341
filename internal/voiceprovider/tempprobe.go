package voiceprovider

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// SysfsProbe reads a Linux hwmon/thermal_zone temperature file, which
// reports millidegrees Celsius as a bare integer.
type SysfsProbe struct {
	path string
}

// NewSysfsProbe constructs a probe over path, defaulting to the common
// thermal_zone0 path used by ARM64 SBCs.
func NewSysfsProbe(path string) *SysfsProbe {
	if strings.TrimSpace(path) == "" {
		path = "/sys/class/thermal/thermal_zone0/temp"
	}
	return &SysfsProbe{path: path}
}

// Read implements TemperatureProbe. A missing file or unparseable content
// reports ok=false, matching the spec's "sentinel when unavailable" contract
// rather than raising.
func (p *SysfsProbe) Read() (float64, bool) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return 0, false
	}
	millideg, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, false
	}
	return float64(millideg) / 1000.0, true
}

// SimulatedProbe lets tests and THERMAL_SIMULATION_MODE deployments feed a
// synthetic temperature without touching the filesystem.
type SimulatedProbe struct {
	milliC atomic.Int64
	unset  atomic.Bool
}

// NewSimulatedProbe starts with no reading until Set is called.
func NewSimulatedProbe() *SimulatedProbe {
	p := &SimulatedProbe{}
	p.unset.Store(true)
	return p
}

// Set feeds the next reading the probe will report.
func (p *SimulatedProbe) Set(tempC float64) {
	p.milliC.Store(int64(tempC * 1000))
	p.unset.Store(false)
}

// Unset makes the probe report unavailable until the next Set.
func (p *SimulatedProbe) Unset() {
	p.unset.Store(true)
}

func (p *SimulatedProbe) Read() (float64, bool) {
	if p.unset.Load() {
		return 0, false
	}
	return float64(p.milliC.Load()) / 1000.0, true
}

package monitor

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const maxPackageNameLength = 256

var (
	packageRE      = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)*$`)
	cpuMemRE       = regexp.MustCompile(`(\d+\.?\d*)\s+(\d+\.?\d*)\s+\d+:\d+\.\d+\s+`)
	memTotalRE     = regexp.MustCompile(`TOTAL[:\s]\s*(\d+)`)
	batteryLevelRE = regexp.MustCompile(`level:\s*(\d+)`)
	batteryTempRE  = regexp.MustCompile(`temperature:\s*(\d+)`)
)

// validPackageName guards shell interpolation of caller-supplied packages.
func validPackageName(pkg string) bool {
	if pkg == "" || len(pkg) > maxPackageNameLength {
		return false
	}
	return packageRE.MatchString(pkg)
}

// Snapshot is one sample of device/app performance metrics. Fields are nil
// when the corresponding probe produced nothing usable.
type Snapshot struct {
	Timestamp          time.Time `json:"timestamp"`
	CPUPercent         *float64  `json:"cpu_percent,omitempty"`
	MemoryMB           *float64  `json:"memory_mb,omitempty"`
	MemoryPercent      *float64  `json:"memory_percent,omitempty"`
	FPS                *float64  `json:"fps,omitempty"`
	NetworkRxBytes     *int64    `json:"network_rx_bytes,omitempty"`
	NetworkTxBytes     *int64    `json:"network_tx_bytes,omitempty"`
	BatteryLevel       *int      `json:"battery_level,omitempty"`
	BatteryTemperature *float64  `json:"battery_temperature,omitempty"`
}

// collectSnapshot probes one device. Individual probe failures degrade to
// missing fields rather than failing the whole sample.
func collectSnapshot(ctx context.Context, dev Device, pkg string) Snapshot {
	snap := Snapshot{Timestamp: time.Now()}
	populateCPUMemory(ctx, &snap, dev, pkg)
	populateBattery(ctx, &snap, dev)
	populateNetwork(ctx, &snap, dev)
	populateFPS(ctx, &snap, dev)
	return snap
}

func populateCPUMemory(ctx context.Context, snap *Snapshot, dev Device, pkg string) {
	if pkg == "" {
		return
	}
	if !validPackageName(pkg) {
		log.Warn().Str("package", truncate(pkg, 50)).Msg("invalid package name rejected")
		return
	}

	if output, err := dev.Shell(ctx, "sh", "-c", "top -n 1 -b | grep -F '"+pkg+"'"); err == nil {
		if match := cpuMemRE.FindStringSubmatch(output); match != nil {
			if cpu, err := strconv.ParseFloat(match[1], 64); err == nil {
				snap.CPUPercent = &cpu
			}
			if mem, err := strconv.ParseFloat(match[2], 64); err == nil {
				snap.MemoryPercent = &mem
			}
		}
	} else {
		log.Debug().Err(err).Msg("cpu probe failed")
	}

	if output, err := dev.Shell(ctx, "dumpsys", "meminfo", pkg); err == nil {
		if match := memTotalRE.FindStringSubmatch(output); match != nil {
			if kb, err := strconv.ParseFloat(match[1], 64); err == nil {
				mb := kb / 1024
				snap.MemoryMB = &mb
			}
		}
	} else {
		log.Debug().Err(err).Msg("meminfo probe failed")
	}
}

func populateBattery(ctx context.Context, snap *Snapshot, dev Device) {
	output, err := dev.Shell(ctx, "dumpsys", "battery")
	if err != nil {
		return
	}
	if match := batteryLevelRE.FindStringSubmatch(output); match != nil {
		if level, err := strconv.Atoi(match[1]); err == nil {
			snap.BatteryLevel = &level
		}
	}
	if match := batteryTempRE.FindStringSubmatch(output); match != nil {
		if tenths, err := strconv.Atoi(match[1]); err == nil {
			temp := float64(tenths) / 10.0
			snap.BatteryTemperature = &temp
		}
	}
}

func populateNetwork(ctx context.Context, snap *Snapshot, dev Device) {
	output, err := dev.Shell(ctx, "cat", "/proc/net/dev")
	if err != nil {
		return
	}
	var rxTotal, txTotal int64
	seen := false
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, ":") || strings.Contains(line, "lo:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		rx, rxErr := strconv.ParseInt(fields[1], 10, 64)
		tx, txErr := strconv.ParseInt(fields[9], 10, 64)
		if rxErr != nil || txErr != nil {
			continue
		}
		rxTotal += rx
		txTotal += tx
		seen = true
	}
	if seen {
		snap.NetworkRxBytes = &rxTotal
		snap.NetworkTxBytes = &txTotal
	}
}

func populateFPS(ctx context.Context, snap *Snapshot, dev Device) {
	if _, err := dev.Shell(ctx, "dumpsys", "SurfaceFlinger", "--latency-clear"); err != nil {
		return
	}
	time.Sleep(500 * time.Millisecond)
	output, err := dev.Shell(ctx, "dumpsys", "SurfaceFlinger", "--latency", "SurfaceView")
	if err != nil {
		return
	}
	lines := make([]string, 0)
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) <= 2 {
		return
	}
	validFrames := 0
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] != "0" {
			validFrames++
		}
	}
	// The latency window covers roughly half a second of frames.
	fps := float64(validFrames * 2)
	snap.FPS = &fps
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

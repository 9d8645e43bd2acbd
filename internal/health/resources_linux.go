//go:build linux

package health

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// sampleResources reads host memory, load, and uptime from the kernel
// and the process heap from the Go runtime. CPUFraction approximates
// saturation as the one-minute load average over the core count.
func sampleResources() (*ResourceStats, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return nil, fmt.Errorf("sysinfo: %w", err)
	}

	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	used := total - free

	var frac float64
	if total > 0 {
		frac = float64(used) / float64(total)
	}

	// Loads are fixed-point with a 16-bit fractional part.
	load1 := float64(info.Loads[0]) / 65536.0
	cpu := load1 / float64(runtime.NumCPU())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &ResourceStats{
		MemoryUsedBytes:  used,
		MemoryTotalBytes: total,
		MemoryFraction:   frac,
		ProcessBytes:     mem.Sys,
		LoadAverage:      load1,
		CPUFraction:      cpu,
		UptimeSeconds:    info.Uptime,
	}, nil
}

package engine

import (
	"log/slog"

	"github.com/shirou/gopsutil/v4/mem"
)

// Memory tier boundaries for picking a decode thread count.
const (
	gib            = 1 << 30
	threadsMinimum = 1
	threadsLow     = 2
	threadsMedium  = 4
	threadsHigh    = 8
)

// totalMemory is swappable in tests.
var totalMemory = func() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// DeriveThreadCount picks a decode thread count from the device memory tier.
// A positive override wins outright. When the memory probe fails the minimum
// tier is assumed, which only costs speed.
func DeriveThreadCount(override int) int {
	if override > 0 {
		return override
	}

	total, err := totalMemory()
	if err != nil {
		slog.Warn("engine: memory probe failed, assuming low-memory device",
			slog.String("error", err.Error()))
		return threadsMinimum
	}

	return threadsForMemory(total)
}

func threadsForMemory(total uint64) int {
	switch {
	case total < 2*gib:
		return threadsMinimum
	case total < 4*gib:
		return threadsLow
	case total < 8*gib:
		return threadsMedium
	default:
		return threadsHigh
	}
}

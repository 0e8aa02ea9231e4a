package engine

import (
	"errors"
	"testing"
)

func TestDeriveThreadCountOverride(t *testing.T) {
	if got := DeriveThreadCount(3); got != 3 {
		t.Errorf("DeriveThreadCount(3) = %d, want 3", got)
	}
}

func TestDeriveThreadCountMemoryTiers(t *testing.T) {
	tests := []struct {
		total uint64
		want  int
	}{
		{1 * gib, threadsMinimum},
		{2 * gib, threadsLow},
		{3 * gib, threadsLow},
		{4 * gib, threadsMedium},
		{6 * gib, threadsMedium},
		{8 * gib, threadsHigh},
		{32 * gib, threadsHigh},
	}

	orig := totalMemory
	defer func() { totalMemory = orig }()

	for _, tt := range tests {
		totalMemory = func() (uint64, error) { return tt.total, nil }
		if got := DeriveThreadCount(0); got != tt.want {
			t.Errorf("DeriveThreadCount(0) with %d bytes = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestDeriveThreadCountProbeFailure(t *testing.T) {
	orig := totalMemory
	defer func() { totalMemory = orig }()

	totalMemory = func() (uint64, error) { return 0, errors.New("no procfs") }
	if got := DeriveThreadCount(0); got != threadsMinimum {
		t.Errorf("DeriveThreadCount(0) = %d, want %d on probe failure", got, threadsMinimum)
	}
}

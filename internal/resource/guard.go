// Package resource checks host capacity before expensive evaluations.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// ErrInsufficientMemory is returned when available host memory is below the guard's minimum
var ErrInsufficientMemory = errors.New("insufficient available memory")

const mb = 1024 * 1024

// Host is a point-in-time view of host capacity
type Host struct {
	TotalMB     uint64
	AvailableMB uint64
	UsedPercent float64
	CPUCores    int
}

// Probe reads the current host state
type Probe func(ctx context.Context) (*Host, error)

// Snapshot reads host memory and CPU counts
func Snapshot(ctx context.Context) (*Host, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("mem: %w", err)
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}
	return &Host{
		TotalMB:     v.Total / mb,
		AvailableMB: v.Available / mb,
		UsedPercent: v.UsedPercent,
		CPUCores:    cores,
	}, nil
}

// MemoryGuard refuses to start work when available memory is low
type MemoryGuard struct {
	MinAvailableMB int
	probe          Probe
	logger         *slog.Logger
}

// NewMemoryGuard creates a guard that reads memory with Snapshot
func NewMemoryGuard(minAvailableMB int, l *slog.Logger) *MemoryGuard {
	return NewMemoryGuardWithProbe(minAvailableMB, Snapshot, l)
}

// NewMemoryGuardWithProbe is NewMemoryGuard with a custom probe
func NewMemoryGuardWithProbe(minAvailableMB int, probe Probe, l *slog.Logger) *MemoryGuard {
	if l == nil {
		l = logger.Component("resource")
	}
	return &MemoryGuard{MinAvailableMB: minAvailableMB, probe: probe, logger: l}
}

// Check returns ErrInsufficientMemory when available memory is below the minimum
func (g *MemoryGuard) Check(ctx context.Context) error {
	if g.MinAvailableMB <= 0 {
		return nil
	}
	h, err := g.probe(ctx)
	if err != nil {
		return fmt.Errorf("read host memory: %w", err)
	}
	if h.AvailableMB < uint64(g.MinAvailableMB) {
		g.logger.Warn("host memory below minimum",
			"available_mb", h.AvailableMB,
			"min_available_mb", g.MinAvailableMB,
			"used_percent", h.UsedPercent)
		return fmt.Errorf("%w: %d MB available, %d MB required", ErrInsufficientMemory, h.AvailableMB, g.MinAvailableMB)
	}
	return nil
}

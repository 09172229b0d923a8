// Package diag emits a periodic host CPU/memory heartbeat as a DEBUG log
// line, useful for spotting resource exhaustion on a long-running engine
// process.
package diag

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/JustAMamont/evm-terminal/internal/xlog"
)

// Run samples host CPU/memory every interval until ctx is cancelled.
func Run(ctx context.Context, logger *xlog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample(logger)
		}
	}
}

func sample(logger *xlog.Logger) {
	percents, err := cpu.Percent(0, false)
	cpuPct := 0.0
	if err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	vm, err := mem.VirtualMemory()
	memPct := 0.0
	if err == nil && vm != nil {
		memPct = vm.UsedPercent
	}
	logger.Debug("host: cpu=%.1f%% mem=%.1f%%", cpuPct, memPct)
}

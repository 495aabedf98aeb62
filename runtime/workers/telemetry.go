package workers

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// TelemetryWorker periodically logs the process's own resource usage.
// Cheap visibility into fan-out pressure without an external metrics stack.
type TelemetryWorker struct {
	log      *slog.Logger
	interval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			memInfo, err := p.MemoryInfo()
			if err != nil {
				w.log.Warn("Failed to collect memory stats", "error", err)
				continue
			}
			cpuPercent, err := p.CPUPercent()
			if err != nil {
				w.log.Warn("Failed to collect cpu stats", "error", err)
				continue
			}
			w.log.Info("Process stats",
				"rss_bytes", memInfo.RSS,
				"cpu_percent", cpuPercent,
				"goroutines", runtime.NumGoroutine())
		}
	}
}

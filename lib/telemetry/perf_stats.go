package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

const perfSampleInterval = 30 * time.Second

var perfMeter = otel.Meter("boxsync.process")
var cpuPercentGauge, _ = perfMeter.Float64Gauge("process_cpu_percent")
var heapAllocGauge, _ = perfMeter.Int64Gauge("heap_alloc_mb")
var liveObjectsGauge, _ = perfMeter.Int64Gauge("heap_live_objects")
var goroutinesGauge, _ = perfMeter.Int64Gauge("goroutines")

// InstrumentPerfStats samples process-level runtime gauges until ctx
// ends. the cpu read blocks for a minute inside the sampling goroutine,
// it never holds up the caller.
func InstrumentPerfStats(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(perfSampleInterval)
		defer ticker.Stop()

		var stats runtime.MemStats
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runtime.ReadMemStats(&stats)
				heapAllocGauge.Record(ctx, int64(stats.Alloc/1_000_000))
				liveObjectsGauge.Record(ctx, int64(stats.Mallocs)-int64(stats.Frees))
				goroutinesGauge.Record(ctx, int64(runtime.NumGoroutine()))

				usage, err := cpu.Percent(time.Minute, false)
				if err != nil {
					slog.Warn("failed to sample cpu usage", "err", err)
					continue
				}
				if len(usage) > 0 {
					cpuPercentGauge.Record(ctx, usage[0])
				}
			}
		}
	}()
}

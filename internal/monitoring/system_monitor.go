package monitoring

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// SystemMetrics holds one sample of process resource usage.
type SystemMetrics struct {
	CPUPercent  float64
	MemoryBytes uint64
	Goroutines  int
	Timestamp   time.Time
}

// SystemMonitor periodically samples CPU, heap and goroutine counts,
// publishing them to the Prometheus gauges and to debug logs. One instance
// per process.
type SystemMonitor struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	metrics SystemMetrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSystemMonitor returns a stopped monitor.
func NewSystemMonitor(logger zerolog.Logger) *SystemMonitor {
	return &SystemMonitor{
		logger: logger.With().Str("component", "system_monitor").Logger(),
	}
}

// Start begins periodic sampling. Safe to call once.
func (sm *SystemMonitor) Start(ctx context.Context, interval time.Duration) {
	ctx, sm.cancel = context.WithCancel(ctx)

	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		sm.logger.Info().Dur("interval", interval).Msg("System monitor started")
		sm.sample()

		for {
			select {
			case <-ticker.C:
				sm.sample()
			case <-ctx.Done():
				sm.logger.Info().Msg("System monitor stopped")
				return
			}
		}
	}()
}

func (sm *SystemMonitor) sample() {
	var cpuPercent float64
	// Non-blocking sample against the previous call's baseline.
	if percents, err := cpu.Percent(0, false); err != nil {
		sm.logger.Debug().Err(err).Msg("CPU sample failed")
	} else if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	sm.mu.Lock()
	sm.metrics = SystemMetrics{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  goroutines,
		Timestamp:   time.Now(),
	}
	sm.mu.Unlock()

	cpuUsagePercent.Set(cpuPercent)
	memoryUsageBytes.Set(float64(mem.Alloc))
	goroutineCount.Set(float64(goroutines))

	sm.logger.Debug().
		Float64("cpu_percent", cpuPercent).
		Uint64("heap_bytes", mem.Alloc).
		Int("goroutines", goroutines).
		Msg("System metrics sampled")
}

// Metrics returns a copy of the latest sample.
func (sm *SystemMonitor) Metrics() SystemMetrics {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.metrics
}

// Stop halts sampling and waits for the goroutine to exit.
func (sm *SystemMonitor) Stop() {
	if sm.cancel != nil {
		sm.cancel()
	}
	sm.wg.Wait()
}

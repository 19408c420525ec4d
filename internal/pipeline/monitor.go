package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

// Monitor is the in-process sink for per-call outcomes and capacity
// thresholds. It satisfies retry.Monitor, so every retried external call
// reports through it.
type Monitor struct {
	log         *logger.Logger
	maxMemoryGB float64

	mu        sync.Mutex
	successes map[string]int
	failures  map[string]int
	retries   map[string]int
	memWarns  int
}

func NewMonitor(log *logger.Logger, maxMemoryGB float64) *Monitor {
	if maxMemoryGB <= 0 {
		maxMemoryGB = 7.5
	}
	return &Monitor{
		log:         log.With("service", "PipelineMonitor"),
		maxMemoryGB: maxMemoryGB,
		successes:   map[string]int{},
		failures:    map[string]int{},
		retries:     map[string]int{},
	}
}

func (m *Monitor) Success(ctx context.Context, op string) {
	m.mu.Lock()
	m.successes[op]++
	m.mu.Unlock()
}

func (m *Monitor) Failure(ctx context.Context, op string, err error) {
	m.mu.Lock()
	m.failures[op]++
	m.mu.Unlock()
	m.runLog(ctx).Warn("Operation failed", "op", op, "error", err)
}

func (m *Monitor) Retry(ctx context.Context, op string, attempt int, err error) {
	m.mu.Lock()
	m.retries[op]++
	m.mu.Unlock()
	m.runLog(ctx).Warn("Operation retrying", "op", op, "attempt", attempt, "error", err)
}

// runLog labels output with the run and phase tagged on the context, so
// retry noise from concurrent workers stays attributable.
func (m *Monitor) runLog(ctx context.Context) *logger.Logger {
	info, ok := ctxutil.RunInfoFrom(ctx)
	if !ok {
		return m.log
	}
	log := m.log.With("run_id", info.RunID)
	if info.Phase != "" {
		log = log.With("phase", info.Phase)
	}
	return log
}

// MonitorSummary is the counter snapshot folded into run diagnostics.
type MonitorSummary struct {
	Successes map[string]int `json:"successes,omitempty"`
	Failures  map[string]int `json:"failures,omitempty"`
	Retries   map[string]int `json:"retries,omitempty"`
	MemWarns  int            `json:"mem_warns,omitempty"`
}

func (m *Monitor) Snapshot() MonitorSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := MonitorSummary{
		Successes: map[string]int{},
		Failures:  map[string]int{},
		Retries:   map[string]int{},
		MemWarns:  m.memWarns,
	}
	for k, v := range m.successes {
		out.Successes[k] = v
	}
	for k, v := range m.failures {
		out.Failures[k] = v
	}
	for k, v := range m.retries {
		out.Retries[k] = v
	}
	return out
}

// WatchMemory samples heap usage until ctx is done and warns when it
// crosses the configured ceiling. The pipeline does not adapt; capacity
// planning stays with the deployment.
func (m *Monitor) WatchMemory(ctx context.Context, interval time.Duration) {
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
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			usedGB := float64(ms.Alloc) / (1 << 30)
			if usedGB > m.maxMemoryGB {
				m.mu.Lock()
				m.memWarns++
				m.mu.Unlock()
				m.log.Warn("Memory ceiling crossed", "used_gb", usedGB, "max_gb", m.maxMemoryGB)
			}
		}
	}
}

package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
)

// Metrics holds process counters for HTTP traffic and pipeline runs.
// It satisfies pipeline.Recorder.
type Metrics struct {
	requestsTotal      atomic.Uint64
	requestsInProgress atomic.Int64
	requestsSuccess    atomic.Uint64
	requestsFailed     atomic.Uint64

	runsStarted   atomic.Uint64
	runsRunning   atomic.Int64
	runsCompleted atomic.Uint64
	runsFailed    atomic.Uint64
	runsSkipped   atomic.Uint64
	runsAbandoned atomic.Uint64
	runsDegraded  atomic.Uint64

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RunStarted() {
	m.runsStarted.Add(1)
	m.runsRunning.Add(1)
}

// RunFinished counts the final status; an empty status is an abandoned run.
func (m *Metrics) RunFinished(status calls.PipelineStatus, degraded bool) {
	m.runsRunning.Add(-1)
	switch status {
	case calls.StatusCompleted:
		m.runsCompleted.Add(1)
		if degraded {
			m.runsDegraded.Add(1)
		}
	case calls.StatusFailed:
		m.runsFailed.Add(1)
	case calls.StatusSkipped:
		m.runsSkipped.Add(1)
	default:
		m.runsAbandoned.Add(1)
	}
}

// Snapshot returns current metrics
func (m *Metrics) Snapshot() map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]any{
		"requests_total":       m.requestsTotal.Load(),
		"requests_in_progress": m.requestsInProgress.Load(),
		"requests_success":     m.requestsSuccess.Load(),
		"requests_failed":      m.requestsFailed.Load(),
		"pipeline": map[string]any{
			"started":   m.runsStarted.Load(),
			"running":   m.runsRunning.Load(),
			"completed": m.runsCompleted.Load(),
			"failed":    m.runsFailed.Load(),
			"skipped":   m.runsSkipped.Load(),
			"abandoned": m.runsAbandoned.Load(),
			"degraded":  m.runsDegraded.Load(),
		},
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"memory": map[string]any{
			"alloc_bytes":       mem.Alloc,
			"total_alloc_bytes": mem.TotalAlloc,
			"sys_bytes":         mem.Sys,
			"num_gc":            mem.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsTotal.Add(1)
		m.requestsInProgress.Add(1)
		defer m.requestsInProgress.Add(-1)

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			m.requestsSuccess.Add(1)
		} else {
			m.requestsFailed.Add(1)
		}
	})
}

// Handler returns metrics as JSON
func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}

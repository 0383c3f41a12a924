package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 2 * time.Second

// HealthChecker reports whether one backing service is reachable.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a ping function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Dependency bounds a checker with its own deadline. An Optional dependency
// only degrades readiness; calls still complete without it.
type Dependency struct {
	Checker  HealthChecker
	Timeout  time.Duration
	Optional bool
}

func (d Dependency) Check(ctx context.Context) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Checker.Check(ctx)
}

// Readiness values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the readiness report.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

type CheckStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Optional  bool   `json:"optional,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// HealthHandler runs every checker concurrently, each under its own deadline.
// A failed required check answers 503; a failed optional one reports degraded.
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := HealthStatus{
			Status:    StatusHealthy,
			Timestamp: time.Now().UTC(),
			Checks:    make(map[string]CheckStatus, len(checkers)),
		}

		var (
			mu sync.Mutex
			g  errgroup.Group
		)
		for name, checker := range checkers {
			dep, ok := checker.(Dependency)
			if !ok {
				dep = Dependency{Checker: checker}
			}
			g.Go(func() error {
				start := time.Now()
				err := dep.Check(r.Context())
				cs := CheckStatus{
					Status:    StatusHealthy,
					Optional:  dep.Optional,
					LatencyMs: time.Since(start).Milliseconds(),
				}
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					cs.Status = StatusUnhealthy
					cs.Message = err.Error()
					switch {
					case !dep.Optional:
						health.Status = StatusUnhealthy
					case health.Status == StatusHealthy:
						health.Status = StatusDegraded
					}
				}
				health.Checks[name] = cs
				return nil
			})
		}
		_ = g.Wait()

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// LivenessHandler answers ok while the process serves HTTP.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

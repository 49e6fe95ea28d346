package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Status is the aggregate readiness report.
type Status struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]string `json:"checks"`
}

// Manager runs registered checkers and serves the liveness and readiness
// endpoints.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewManager creates a health manager. timeout bounds each probe.
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a dependency checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check probes all dependencies.
func (m *Manager) Check(ctx context.Context) Status {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	status := Status{Healthy: true, Checks: make(map[string]string, len(checkers))}
	for _, c := range checkers {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := c.Check(probeCtx)
		cancel()
		if err != nil {
			status.Healthy = false
			status.Checks[c.Name()] = err.Error()
			m.logger.Warn("Health check failed",
				zap.String("check", c.Name()),
				zap.Error(err),
			)
			continue
		}
		status.Checks[c.Name()] = "ok"
	}
	return status
}

// LivenessHandler answers /healthz: the process is up.
func (m *Manager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// ReadinessHandler answers /readiness: dependencies are reachable.
func (m *Manager) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}

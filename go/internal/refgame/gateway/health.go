package gateway

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck is a dependency whose state shows up on /health
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCounter is a running count reported on /health. Counters do not
// affect Healthy.
type HealthCounter interface {
	Name() string
	Count() uint64
}

// HealthStatus is the body of GET /health
type HealthStatus struct {
	Healthy          bool              `json:"healthy"`
	TotalConnections int               `json:"total_connections"`
	ActiveSessions   int               `json:"active_sessions"`
	Checks           map[string]string `json:"checks,omitempty"`
	Counters         map[string]uint64 `json:"counters,omitempty"`
}

// AddHealthCheck registers a dependency to report on /health
func (s *Service) AddHealthCheck(c HealthCheck) {
	s.checks = append(s.checks, c)
}

// AddCounter registers a count to report on /health
func (s *Service) AddCounter(c HealthCounter) {
	s.counters = append(s.counters, c)
}

// Health runs every registered check
func (s *Service) Health(ctx context.Context) HealthStatus {
	stats := s.manager.GetConnectionStats()
	status := HealthStatus{
		Healthy:          true,
		TotalConnections: stats["total_connections"].(int),
		ActiveSessions:   stats["active_sessions"].(int),
	}

	for _, c := range s.checks {
		if status.Checks == nil {
			status.Checks = make(map[string]string, len(s.checks))
		}
		if err := c.Check(ctx); err != nil {
			status.Healthy = false
			status.Checks[c.Name()] = err.Error()
			continue
		}
		status.Checks[c.Name()] = "ok"
	}

	for _, c := range s.counters {
		if status.Counters == nil {
			status.Counters = make(map[string]uint64, len(s.counters))
		}
		status.Counters[c.Name()] = c.Count()
	}
	return status
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := s.Health(ctx)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

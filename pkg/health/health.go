package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/nmxmxh/chatty-gateway/pkg/json"
)

// Status represents the health status
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// HealthCheck represents a health check
type HealthCheck interface {
	Check(ctx context.Context) error
	Name() string
}

// HealthChecker manages health checks
type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
	}
}

// Register adds a new health check
func (hc *HealthChecker) Register(check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

// Check performs all health checks
func (hc *HealthChecker) Check(ctx context.Context) map[string]error {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	results := make(map[string]error)
	for _, check := range hc.checks {
		results[check.Name()] = check.Check(ctx)
	}
	return results
}

// Handler serves the aggregate health status as JSON. Any failing check
// turns the response into 503 with per-check detail.
func (hc *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := StatusUp
		checks := make(map[string]string)
		for name, err := range hc.Check(ctx) {
			if err != nil {
				status = StatusDown
				checks[name] = err.Error()
			} else {
				checks[name] = string(StatusUp)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		body, err := json.Marshal(map[string]interface{}{
			"status": status,
			"checks": checks,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(body)
	})
}

// Pinger is anything with a cheap liveness probe, e.g. the Redis client.
type Pinger interface {
	IsAvailable(ctx context.Context) error
}

// RedisHealthCheck checks Redis connectivity
type RedisHealthCheck struct {
	name   string
	client Pinger
}

func NewRedisHealthCheck(name string, client Pinger) *RedisHealthCheck {
	return &RedisHealthCheck{name: name, client: client}
}

func (r *RedisHealthCheck) Check(ctx context.Context) error {
	return r.client.IsAvailable(ctx)
}

func (r *RedisHealthCheck) Name() string {
	return r.name
}

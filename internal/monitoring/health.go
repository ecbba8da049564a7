package monitoring

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// ComponentChecker checks one dependency.
type ComponentChecker interface {
	Check(ctx context.Context) error
	Name() string
	Timeout() time.Duration
}

type HealthStatus struct {
	Status     string                      `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components"`
	Summary    *HealthSummary              `json:"summary"`
}

type ComponentHealth struct {
	Status      string        `json:"status"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

type HealthSummary struct {
	TotalComponents     int `json:"total_components"`
	HealthyComponents   int `json:"healthy_components"`
	UnhealthyComponents int `json:"unhealthy_components"`
}

// HealthChecker aggregates component checks into one service status.
type HealthChecker struct {
	checkers  map[string]ComponentChecker
	status    map[string]*ComponentHealth
	startTime time.Time
	version   string
	mutex     sync.RWMutex
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checkers:  make(map[string]ComponentChecker),
		status:    make(map[string]*ComponentHealth),
		startTime: time.Now(),
		version:   version,
	}
}

func (h *HealthChecker) RegisterCheck(checker ComponentChecker) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.checkers[checker.Name()] = checker
	h.status[checker.Name()] = &ComponentHealth{Status: StatusUnknown}
}

// CheckHealth runs every check. Any failing component degrades the service;
// when failures outnumber healthy components it is unhealthy.
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	overall := StatusHealthy
	summary := &HealthSummary{TotalComponents: len(h.checkers)}

	// Probes run concurrently; each reports its own status, so the group
	// never returns an error.
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	results := make(map[string]*ComponentHealth, len(h.checkers))
	for name, checker := range h.checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := checkComponent(ctx, checker)
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for name, result := range results {
		h.status[name] = result

		if result.Status == StatusHealthy {
			summary.HealthyComponents++
		} else {
			summary.UnhealthyComponents++
			overall = StatusDegraded
		}
	}

	if summary.UnhealthyComponents > summary.HealthyComponents {
		overall = StatusUnhealthy
	}

	return &HealthStatus{
		Status:     overall,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Version:    h.version,
		Components: h.copyStatus(),
		Summary:    summary,
	}
}

func checkComponent(ctx context.Context, checker ComponentChecker) *ComponentHealth {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	err := checker.Check(checkCtx)
	health := &ComponentHealth{
		Status:      StatusHealthy,
		LastChecked: time.Now().UTC(),
		Duration:    time.Since(start),
	}
	if err != nil {
		health.Status = StatusUnhealthy
		health.Error = err.Error()
	}
	return health
}

func (h *HealthChecker) copyStatus() map[string]*ComponentHealth {
	copied := make(map[string]*ComponentHealth, len(h.status))
	for name, status := range h.status {
		c := *status
		copied[name] = &c
	}
	return copied
}

// GetComponentStatus returns the last recorded result for a component.
func (h *HealthChecker) GetComponentStatus(component string) *ComponentHealth {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if status, exists := h.status[component]; exists {
		c := *status
		return &c
	}
	return nil
}

type funcChecker struct {
	name    string
	timeout time.Duration
	check   func(ctx context.Context) error
}

// NewChecker wraps a ping function, typically a store or broker Ping.
func NewChecker(name string, timeout time.Duration, check func(ctx context.Context) error) ComponentChecker {
	return &funcChecker{name: name, timeout: timeout, check: check}
}

func (f *funcChecker) Name() string           { return f.name }
func (f *funcChecker) Timeout() time.Duration { return f.timeout }

func (f *funcChecker) Check(ctx context.Context) error {
	return f.check(ctx)
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Duration  string       `json:"duration,omitempty"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Components []ComponentHealth `json:"components"`
	Uptime     string            `json:"uptime"`
}

// Pinger is a dependency whose reachability can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthObserver receives per-component health. *metrics.Metrics satisfies it.
type HealthObserver interface {
	SetComponentHealth(component string, healthy bool)
}

// HealthService defines the health check service interface
type HealthService interface {
	CheckHealth(ctx context.Context) HealthResponse
}

type healthService struct {
	components map[string]Pinger
	order      []string
	observer   HealthObserver
	logger     *zap.Logger
	startTime  time.Time
	version    string
	timeout    time.Duration
}

// NewHealthService creates a health service checking the named components in
// the order given.
func NewHealthService(logger *zap.Logger, observer HealthObserver, version string, components ...NamedPinger) HealthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &healthService{
		components: make(map[string]Pinger, len(components)),
		observer:   observer,
		logger:     logger,
		startTime:  time.Now(),
		version:    version,
		timeout:    3 * time.Second,
	}
	for _, c := range components {
		h.components[c.Name] = c.Pinger
		h.order = append(h.order, c.Name)
	}
	return h
}

// NamedPinger labels a Pinger for health reports.
type NamedPinger struct {
	Name   string
	Pinger Pinger
}

// CheckHealth performs a comprehensive health check
func (h *healthService) CheckHealth(ctx context.Context) HealthResponse {
	start := time.Now()

	components := make([]ComponentHealth, 0, len(h.order))
	for _, name := range h.order {
		components = append(components, h.check(ctx, name, h.components[name]))
	}
	overallStatus := determineOverallStatus(components)

	h.logger.Debug("Health check completed",
		zap.String("status", string(overallStatus)),
		zap.Duration("duration", time.Since(start)),
		zap.Int("components", len(components)))

	return HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Version:    h.version,
		Components: components,
		Uptime:     time.Since(h.startTime).String(),
	}
}

func (h *healthService) check(ctx context.Context, name string, p Pinger) ComponentHealth {
	start := time.Now()
	component := ComponentHealth{Name: name, Timestamp: start}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if p == nil {
		component.Status = HealthStatusUnhealthy
		component.Message = "not configured"
	} else if err := p.Ping(ctx); err != nil {
		component.Status = HealthStatusUnhealthy
		component.Message = err.Error()
		h.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
	} else {
		component.Status = HealthStatusHealthy
	}
	component.Duration = time.Since(start).String()

	if h.observer != nil {
		h.observer.SetComponentHealth(name, component.Status == HealthStatusHealthy)
	}
	return component
}

// determineOverallStatus determines the overall health status based on component statuses
func determineOverallStatus(components []ComponentHealth) HealthStatus {
	hasDegraded := false
	for _, component := range components {
		switch component.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

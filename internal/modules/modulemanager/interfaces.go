// Package modulemanager provides interfaces for the module system
package modulemanager

import (
	"context"
	"time"
)

// ServiceInjector is an optional interface for modules that need services injected
type ServiceInjector interface {
	// InjectServices is called after the dependency graph is built but before Init().
	// The services map contains all available services keyed by service name.
	InjectServices(services map[string]interface{}) error
}

// ServiceRegistrar is an optional interface for modules that register services early
type ServiceRegistrar interface {
	// RegisterServices is called after construction but before any Init() calls.
	// This allows modules to register services that other modules depend on.
	RegisterServices() error
}

// PostInitializer is an optional interface for work that must wait until
// every module has initialized, such as resuming interrupted scans
type PostInitializer interface {
	PostInit() error
}

// Shutdowner is an optional interface for modules that own background
// loops or child processes
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// HealthChecker is an optional interface for modules that can report health status
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthStatus represents the health of a module
type HealthStatus struct {
	Status      HealthState            `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// HealthState represents the state of a module's health
type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateDegraded  HealthState = "degraded"
	HealthStateUnhealthy HealthState = "unhealthy"
	HealthStateUnknown   HealthState = "unknown"
)

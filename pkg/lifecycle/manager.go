// Package lifecycle provides supervised lifecycle management for background
// resources: workers are registered centrally so a crashed or unhealthy task
// is observable instead of silently vanishing.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Resource represents any component that needs lifecycle management
type Resource interface {
	// Name returns a unique identifier for the resource
	Name() string
	// Start initializes the resource
	Start(ctx context.Context) error
	// Stop gracefully shuts down the resource
	Stop(ctx context.Context) error
	// Health returns the current health status
	Health() error
}

// HealthError represents a health check failure
type HealthError struct {
	Resource string
	Message  string
}

// Error implements the error interface
func (e *HealthError) Error() string {
	return fmt.Sprintf("health check failed for %s: %s", e.Resource, e.Message)
}

// Manager provides centralized lifecycle management for all resources
type Manager struct {
	mu        sync.RWMutex
	resources []Resource
	log       *zap.Logger
}

// NewManager creates a new lifecycle manager
func NewManager(log *zap.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds a resource to the manager. Resources are started in
// registration order and stopped in reverse.
func (m *Manager) Register(resource Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource)
}

// Start launches all registered resources in order. On failure the already
// started resources are stopped before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, resource := range m.resources {
		m.log.Info("Starting resource", zap.String("resource", resource.Name()))
		if err := resource.Start(ctx); err != nil {
			m.log.Error("Failed to start resource",
				zap.String("resource", resource.Name()),
				zap.Error(err))
			m.stop(ctx, m.resources[:i])
			return fmt.Errorf("failed to start resource %s: %w", resource.Name(), err)
		}
	}

	m.log.Info("All resources started")
	return nil
}

// Stop gracefully shuts down all resources in reverse registration order.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.stop(ctx, m.resources)
}

func (m *Manager) stop(ctx context.Context, resources []Resource) {
	for i := len(resources) - 1; i >= 0; i-- {
		resource := resources[i]
		m.log.Info("Stopping resource", zap.String("resource", resource.Name()))

		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := resource.Stop(stopCtx); err != nil {
			m.log.Error("Failed to stop resource",
				zap.String("resource", resource.Name()),
				zap.Error(err))
		}
		cancel()
	}
}

// Health returns the health status of every registered resource.
func (m *Manager) Health() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]error, len(m.resources))
	for _, resource := range m.resources {
		status[resource.Name()] = resource.Health()
	}
	return status
}

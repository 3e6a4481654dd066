package shutdown

import (
	"context"
	"fmt"
)

// HealthAdapter reports the manager as a health check, failing once
// shutdown has begun so load balancers stop routing to the instance.
type HealthAdapter struct {
	manager *Manager
}

// NewHealthAdapter creates a new health adapter for the shutdown manager.
func NewHealthAdapter(manager *Manager) *HealthAdapter {
	return &HealthAdapter{manager: manager}
}

// Ping returns an error when the manager no longer accepts ingress.
func (a *HealthAdapter) Ping(context.Context) error {
	if a.manager.IsAccepting() {
		return nil
	}
	return fmt.Errorf("shutting down: %s", a.manager.GetState())
}

// GetStatus returns the current shutdown status.
func (a *HealthAdapter) GetStatus() Status {
	return a.manager.GetStatus()
}

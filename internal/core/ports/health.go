package ports

import "context"

// HealthChecker is a dependency checked by /health.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}

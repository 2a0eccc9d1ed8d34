// Package health defines the backing-store health checks aggregated by the
// /v1/health endpoint: a Redis ping check shared by the vault and inventory
// connections, and a Postgres round-trip check for the coin server pool.
package health

import (
	"context"
	"time"
)

// CheckType identifies which kind of backing store a checker probes.
type CheckType string

const (
	CheckTypeRedis    CheckType = "redis"
	CheckTypePostgres CheckType = "postgres"
)

// Result is the outcome of one health check.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one backing-store connection.
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

package health

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChecker reports whether a Postgres pool answers SELECT 1. It is
// used for the coin inventory server's backing store.
type PostgresChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresChecker builds a Checker around an existing pool.
func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

func (c *PostgresChecker) Type() CheckType { return CheckTypePostgres }

func (c *PostgresChecker) Check(ctx context.Context) Result {
	start := time.Now()
	var one int
	err := c.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	result := Result{
		CheckedAt: start,
		Duration:  time.Since(start),
		Healthy:   err == nil,
	}
	if err != nil {
		result.Message = "server: " + err.Error()
	} else {
		result.Message = "server: ok"
	}
	return result
}

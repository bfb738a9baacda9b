package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		count := runtime.NumGoroutine()
		if count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}

// PoolStats is the subset of *pgxpool.Pool used by PoolCheck.
type PoolStats interface {
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

// PoolCheck pings the database and fails when more than maxUtilization of the
// pool's connections are checked out. A non-positive maxUtilization disables
// the saturation check.
func PoolCheck(pool PoolStats, maxUtilization float64) CheckFunc {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		if maxUtilization <= 0 {
			return nil
		}
		st := pool.Stat()
		if st.MaxConns() == 0 {
			return nil
		}
		if used := float64(st.AcquiredConns()) / float64(st.MaxConns()); used > maxUtilization {
			return errors.Errorf("pool saturated: %d of %d connections in use", st.AcquiredConns(), st.MaxConns())
		}
		return nil
	}
}

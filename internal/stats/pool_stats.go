// Package stats summarizes database connection pool usage for logging.
package stats

import (
	"database/sql"
	"fmt"
	"time"
)

// PoolStats is a snapshot of a database/sql pool.
type PoolStats struct {
	DBType      string
	MaxConns    int
	ActiveConns int
	IdleConns   int
	WaitCount   int64
	WaitTime    time.Duration
}

// FromDB converts database/sql pool statistics.
func FromDB(dbType string, s sql.DBStats) PoolStats {
	return PoolStats{
		DBType:      dbType,
		MaxConns:    s.MaxOpenConnections,
		ActiveConns: s.InUse,
		IdleConns:   s.Idle,
		WaitCount:   s.WaitCount,
		WaitTime:    s.WaitDuration,
	}
}

// String returns a formatted string for logging pool stats.
func (s PoolStats) String() string {
	avg := 0.0
	if s.WaitCount > 0 {
		avg = float64(s.WaitTime.Microseconds()) / 1000 / float64(s.WaitCount)
	}
	return fmt.Sprintf("%s: %d/%d active, %d idle, %d waits (%.1fms avg)",
		s.DBType, s.ActiveConns, s.MaxConns, s.IdleConns, s.WaitCount, avg)
}

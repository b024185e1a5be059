package stats

import (
	"database/sql"
	"testing"
	"time"
)

func TestPoolStatsString(t *testing.T) {
	tests := []struct {
		name string
		in   sql.DBStats
		want string
	}{
		{
			name: "idle pool",
			in:   sql.DBStats{MaxOpenConnections: 4, Idle: 1},
			want: "mysql: 0/4 active, 1 idle, 0 waits (0.0ms avg)",
		},
		{
			name: "waiting",
			in:   sql.DBStats{MaxOpenConnections: 2, InUse: 2, WaitCount: 4, WaitDuration: 10 * time.Millisecond},
			want: "mysql: 2/2 active, 0 idle, 4 waits (2.5ms avg)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromDB("mysql", tt.in).String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

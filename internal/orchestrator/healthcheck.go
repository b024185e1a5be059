package orchestrator

import (
	"context"
	"time"

	"github.com/johndauphine/db-search-replace/internal/logging"
	"github.com/johndauphine/db-search-replace/internal/schema"
)

// CheckResult is the outcome of a preflight check.
type CheckResult struct {
	Timestamp string       `json:"timestamp"`
	Database  string       `json:"database"`
	Connected bool         `json:"connected"`
	LatencyMs int64        `json:"latency_ms"`
	Error     string       `json:"error,omitempty"`
	Tables    []TableCheck `json:"tables,omitempty"`
	Healthy   bool         `json:"healthy"`
}

// TableCheck describes how one table will be scanned.
type TableCheck struct {
	Name       string   `json:"name"`
	Columns    int      `json:"columns"`
	PrimaryKey []string `json:"primary_key,omitempty"`
	Strategy   string   `json:"strategy,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Check connects to the database and introspects every configured table
// without reading or writing rows. Keyless tables are reported because
// they fall back to offset paging.
func (o *Orchestrator) Check(ctx context.Context) (*CheckResult, error) {
	const checkTimeout = 30 * time.Second

	result := &CheckResult{
		Timestamp: time.Now().Format(time.RFC3339),
		Database:  o.config.Describe(),
	}

	start := time.Now()
	connectCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := o.connect(connectCtx); err != nil {
		result.Error = err.Error()
		result.LatencyMs = time.Since(start).Milliseconds()
		return result, nil
	}
	if err := o.db.PingContext(connectCtx); err != nil {
		result.Error = err.Error()
		result.LatencyMs = time.Since(start).Milliseconds()
		return result, nil
	}
	result.Connected = true
	result.LatencyMs = time.Since(start).Milliseconds()

	introspector := schema.NewIntrospector(o.db, o.driver, o.config.Database.Schema)
	healthy := true
	for _, table := range o.config.Job.Tables {
		tc := TableCheck{Name: table}
		def, err := introspector.Introspect(connectCtx, table)
		if err != nil {
			tc.Error = err.Error()
			healthy = false
		} else {
			tc.Columns = len(def.Columns)
			tc.PrimaryKey = def.KeyOrder
			if def.HasPrimaryKey() {
				tc.Strategy = "seek"
			} else {
				tc.Strategy = "offset"
				logging.Warn("Table %s has no primary key; rows are matched on every column", table)
			}
		}
		result.Tables = append(result.Tables, tc)
	}
	result.Healthy = healthy
	return result, nil
}

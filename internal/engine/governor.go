package engine

import (
	"context"
	"time"
)

// Governor decides when an invocation has used up its wall-clock budget.
// It is consulted between rows, never in the middle of one.
type Governor struct {
	Start  time.Time
	Budget time.Duration
	now    func() time.Time
}

// NewGovernor starts a budget at now(). A nil now uses time.Now.
func NewGovernor(budget time.Duration, now func() time.Time) *Governor {
	if now == nil {
		now = time.Now
	}
	return &Governor{Start: now(), Budget: budget, now: now}
}

// Elapsed is the time spent since Start.
func (g *Governor) Elapsed() time.Duration {
	return g.now().Sub(g.Start)
}

// ShouldYield reports whether the caller must stop: the budget is spent or
// ctx has been cancelled.
func (g *Governor) ShouldYield(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return g.Elapsed() >= g.Budget
}

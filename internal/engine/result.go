package engine

import (
	"context"
	"time"

	"git.home.luguber.info/inful/rulebuilder/internal/buildfile"
	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

// Status is the terminal state of a target computation.
type Status string

const (
	StatusBuilt     Status = "built"
	StatusCacheHit  Status = "cache_hit"
	StatusUpToDate  Status = "up_to_date"
	StatusFailed    Status = "failed"
	StatusDepFailed Status = "dep_failed"
)

// Outcome describes how a target computation ended.
type Outcome struct {
	Target   target.Target
	Kind     buildfile.Kind
	Status   Status
	RuleKey  string
	Output   string
	Duration time.Duration
	Attempts int
	Err      error
}

// Success reports whether the target's output is available.
func (o Outcome) Success() bool {
	switch o.Status {
	case StatusBuilt, StatusCacheHit, StatusUpToDate:
		return true
	default:
		return false
	}
}

// Result is the handle of one scheduled target computation. It completes
// exactly once and cannot be cancelled by its holder.
type Result struct {
	target  target.Target
	done    chan struct{}
	outcome Outcome
	deps    []*Result
}

func newResult(t target.Target) *Result {
	return &Result{target: t, done: make(chan struct{})}
}

// Target returns the target this result tracks.
func (r *Result) Target() target.Target { return r.target }

// Done is closed when the computation reaches a terminal state.
func (r *Result) Done() <-chan struct{} { return r.done }

// Wait blocks until the computation completes or ctx ends. A ctx error only
// abandons the wait; the computation keeps running.
func (r *Result) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the outcome if the computation has completed.
func (r *Result) Outcome() (Outcome, bool) {
	select {
	case <-r.done:
		return r.outcome, true
	default:
		return Outcome{}, false
	}
}

func (r *Result) complete(o Outcome) {
	o.Target = r.target
	r.outcome = o
	close(r.done)
}

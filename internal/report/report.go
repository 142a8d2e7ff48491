// Package report builds and persists the summary of one build.
package report

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/rulebuilder/internal/engine"
	"git.home.luguber.info/inful/rulebuilder/internal/version"
)

// SchemaVersion is bumped when the JSON layout changes incompatibly.
const SchemaVersion = 1

// Outcome is the overall result of a build.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// TargetEntry is the per-target line of a report.
type TargetEntry struct {
	Target     string  `json:"target"`
	Kind       string  `json:"kind,omitempty"`
	Status     string  `json:"status"`
	RuleKey    string  `json:"rule_key,omitempty"`
	Output     string  `json:"output,omitempty"`
	DurationMS float64 `json:"duration_ms"`
	Attempts   int     `json:"attempts,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Counts tallies target statuses.
type Counts struct {
	Built     int `json:"built"`
	CacheHit  int `json:"cache_hit"`
	UpToDate  int `json:"up_to_date"`
	Failed    int `json:"failed"`
	DepFailed int `json:"dep_failed"`
}

// Map returns the non-zero counts keyed by status.
func (c Counts) Map() map[string]int {
	m := map[string]int{}
	for k, v := range map[string]int{
		string(engine.StatusBuilt):     c.Built,
		string(engine.StatusCacheHit):  c.CacheHit,
		string(engine.StatusUpToDate):  c.UpToDate,
		string(engine.StatusFailed):    c.Failed,
		string(engine.StatusDepFailed): c.DepFailed,
	} {
		if v > 0 {
			m[k] = v
		}
	}
	return m
}

// Total returns the number of counted targets.
func (c Counts) Total() int {
	return c.Built + c.CacheHit + c.UpToDate + c.Failed + c.DepFailed
}

// BuildReport captures the outcome of every requested target of one build.
type BuildReport struct {
	SchemaVersion  int           `json:"schema_version"`
	BuildID        string        `json:"build_id"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	Outcome        Outcome       `json:"outcome"`
	ExitCode       int           `json:"exit_code"`
	SourceRevision string        `json:"source_revision,omitempty"`
	Version        string        `json:"version"`
	Targets        []TargetEntry `json:"targets"`
	Counts         Counts        `json:"counts"`
}

// New starts a report for buildID.
func New(buildID string) *BuildReport {
	return &BuildReport{
		SchemaVersion: SchemaVersion,
		BuildID:       buildID,
		Start:         time.Now(),
		Outcome:       OutcomeSuccess,
		Version:       version.Version,
		Targets:       []TargetEntry{},
	}
}

// Add records the outcome of one requested target.
func (r *BuildReport) Add(o engine.Outcome) {
	entry := TargetEntry{
		Target:     o.Target.String(),
		Kind:       string(o.Kind),
		Status:     string(o.Status),
		RuleKey:    o.RuleKey,
		Output:     o.Output,
		DurationMS: float64(o.Duration.Microseconds()) / 1000,
		Attempts:   o.Attempts,
	}
	if o.Err != nil {
		entry.Error = o.Err.Error()
	}
	r.Targets = append(r.Targets, entry)

	switch o.Status {
	case engine.StatusBuilt:
		r.Counts.Built++
	case engine.StatusCacheHit:
		r.Counts.CacheHit++
	case engine.StatusUpToDate:
		r.Counts.UpToDate++
	case engine.StatusFailed:
		r.Counts.Failed++
	case engine.StatusDepFailed:
		r.Counts.DepFailed++
	}
}

// Finish stamps the end time and derives the outcome from exitCode.
func (r *BuildReport) Finish(exitCode int) {
	r.End = time.Now()
	r.ExitCode = exitCode
	if exitCode == 0 {
		r.Outcome = OutcomeSuccess
	} else {
		r.Outcome = OutcomeFailed
	}
}

// Duration returns the wall time of the build.
func (r *BuildReport) Duration() time.Duration {
	if r.End.IsZero() {
		return time.Since(r.Start)
	}
	return r.End.Sub(r.Start)
}

// Summary returns a human-readable single-line summary.
func (r *BuildReport) Summary() string {
	return fmt.Sprintf("build=%s targets=%d built=%d cache_hit=%d up_to_date=%d failed=%d dep_failed=%d duration=%s outcome=%s",
		r.BuildID, len(r.Targets), r.Counts.Built, r.Counts.CacheHit, r.Counts.UpToDate,
		r.Counts.Failed, r.Counts.DepFailed, r.Duration().Truncate(time.Millisecond), r.Outcome)
}

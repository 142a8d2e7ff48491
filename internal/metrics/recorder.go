package metrics

import "time"

// TargetStatusLabel enumerates per-target outcomes for counters.
type TargetStatusLabel string

const (
	TargetBuilt     TargetStatusLabel = "built"
	TargetCacheHit  TargetStatusLabel = "cache_hit"
	TargetUpToDate  TargetStatusLabel = "up_to_date"
	TargetFailed    TargetStatusLabel = "failed"
	TargetDepFailed TargetStatusLabel = "dep_failed"
)

// BuildOutcomeLabel enumerates whole-build outcomes.
type BuildOutcomeLabel string

const (
	BuildSuccess      BuildOutcomeLabel = "success"
	BuildFailed       BuildOutcomeLabel = "failed"
	BuildSetupFailure BuildOutcomeLabel = "setup_failure"
)

// Recorder defines observability hooks for build and target metrics. All
// methods must be safe to call on the NoopRecorder so injection stays optional.
type Recorder interface {
	ObserveTargetDuration(kind string, status TargetStatusLabel, d time.Duration)
	IncTargetOutcome(status TargetStatusLabel)
	IncCacheResult(hit bool)
	IncRuleRetry(kind string)
	SetInFlight(n int)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome BuildOutcomeLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTargetDuration(string, TargetStatusLabel, time.Duration) {}
func (NoopRecorder) IncTargetOutcome(TargetStatusLabel)                             {}
func (NoopRecorder) IncCacheResult(bool)                                            {}
func (NoopRecorder) IncRuleRetry(string)                                            {}
func (NoopRecorder) SetInFlight(int)                                                {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)                             {}
func (NoopRecorder) IncBuildOutcome(BuildOutcomeLabel)                              {}

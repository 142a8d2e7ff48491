package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/rulebuilder/internal/buildfile"
	"git.home.luguber.info/inful/rulebuilder/internal/engine"
	"git.home.luguber.info/inful/rulebuilder/internal/events"
	"git.home.luguber.info/inful/rulebuilder/internal/eventstore"
	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
	"git.home.luguber.info/inful/rulebuilder/internal/metrics"
	"git.home.luguber.info/inful/rulebuilder/internal/observability"
	"git.home.luguber.info/inful/rulebuilder/internal/report"
	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

// Resolver builds the dependency graph of requested targets.
type Resolver interface {
	Graph(ctx context.Context, roots []target.Target) (*buildfile.Graph, error)
}

// Option configures a LocalExecutor.
type Option func(*LocalExecutor)

// WithBus publishes build events on bus.
func WithBus(bus *events.Bus) Option {
	return func(x *LocalExecutor) { x.bus = bus }
}

// WithRecorder injects a metrics recorder for build-level metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(x *LocalExecutor) {
		if r != nil {
			x.recorder = r
		}
	}
}

// WithRevision sets a function returning the source revision recorded in
// reports and events.
func WithRevision(fn func() string) Option {
	return func(x *LocalExecutor) { x.revision = fn }
}

// WithClosers registers resources released by Shutdown after the engine.
func WithClosers(closers ...io.Closer) Option {
	return func(x *LocalExecutor) { x.closers = append(x.closers, closers...) }
}

// WithBuildIDs replaces the build ID generator.
func WithBuildIDs(fn func() string) Option {
	return func(x *LocalExecutor) { x.newID = fn }
}

// session is a started build that has not been waited for.
type session struct {
	id       string
	start    time.Time
	revision string
	results  []*engine.Result
}

// LocalExecutor runs builds on a local CachingEngine.
type LocalExecutor struct {
	resolver Resolver
	engine   *engine.CachingEngine
	bus      *events.Bus
	recorder metrics.Recorder
	revision func() string
	newID    func() string
	closers  []io.Closer

	mu       sync.Mutex
	sessions []*session
	shutdown bool
}

var _ Executor = (*LocalExecutor)(nil)

// NewLocalExecutor creates an executor resolving targets with resolver and
// computing them on eng. The executor owns eng and closes it on Shutdown.
func NewLocalExecutor(resolver Resolver, eng *engine.CachingEngine, opts ...Option) *LocalExecutor {
	if resolver == nil {
		panic("NewLocalExecutor: resolver is required")
	}
	if eng == nil {
		panic("NewLocalExecutor: engine is required")
	}
	x := &LocalExecutor{
		resolver: resolver,
		engine:   eng,
		recorder: metrics.NoopRecorder{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Engine returns the engine the executor was created with.
func (x *LocalExecutor) Engine() *engine.CachingEngine { return x.engine }

// BuildAndReturnExitCode starts targets and waits for all of them.
func (x *LocalExecutor) BuildAndReturnExitCode(ctx context.Context, targets []string, reportPath string) (int, error) {
	results, err := x.InitializeBuild(ctx, targets)
	if err != nil {
		return ExitSetupFailure, err
	}
	return x.WaitForBuildToFinish(ctx, targets, results, reportPath), nil
}

// InitializeBuild resolves targets and schedules them on the engine.
func (x *LocalExecutor) InitializeBuild(ctx context.Context, targets []string) ([]*engine.Result, error) {
	x.mu.Lock()
	if x.shutdown {
		x.mu.Unlock()
		return nil, ErrExecutorShutdown
	}
	s := &session{id: x.newID(), start: time.Now()}
	x.sessions = append(x.sessions, s)
	x.mu.Unlock()

	results, err := x.start(ctx, s, targets)
	if err != nil {
		x.release(s)
		x.recorder.IncBuildOutcome(metrics.BuildSetupFailure)
		return nil, err
	}
	x.mu.Lock()
	s.results = results
	x.mu.Unlock()
	return results, nil
}

func (x *LocalExecutor) start(ctx context.Context, s *session, raws []string) ([]*engine.Result, error) {
	ctx = observability.WithStage(observability.WithBuildID(ctx, s.id), observability.StageResolve)
	if err := ctx.Err(); err != nil {
		return nil, foundation.RuntimeError("interrupted").WithCause(err).Build()
	}

	targets, err := target.ParseAll(raws)
	if err != nil {
		return nil, err
	}
	graph, err := x.resolver.Graph(ctx, targets)
	if err != nil {
		observability.DebugContext(ctx, "Target resolution failed", logfields.Error(err))
		return nil, err
	}

	results, err := x.engine.Schedule(ctx, graph, targets)
	if err != nil {
		return nil, foundation.RuntimeError("cannot schedule build").WithCause(err).Build()
	}

	if x.revision != nil {
		s.revision = x.revision()
	}

	observability.InfoContext(ctx, "Build started",
		logfields.Targets(len(targets)),
		slog.Int("rules", graph.Len()))
	x.publish(ctx, func() (eventstore.Event, error) {
		names := make([]string, len(targets))
		for i, t := range targets {
			names[i] = t.String()
		}
		return eventstore.NewBuildStarted(s.id, eventstore.BuildStartedPayload{
			Targets:  names,
			Revision: s.revision,
			Jobs:     x.engine.Jobs(),
		})
	})
	return results, nil
}

// WaitForBuildToFinish drains every handle in order. It panics when targets
// and results differ in length. After Shutdown it touches no resources and
// returns ExitSetupFailure.
func (x *LocalExecutor) WaitForBuildToFinish(ctx context.Context, targets []string, results []*engine.Result, reportPath string) int {
	if len(targets) != len(results) {
		panic(fmt.Sprintf("build: %d targets but %d results", len(targets), len(results)))
	}
	x.mu.Lock()
	closed := x.shutdown
	x.mu.Unlock()
	if closed {
		observability.WarnContext(ctx, "Wait after shutdown ignored", logfields.Error(ErrExecutorShutdown))
		return ExitSetupFailure
	}

	s := x.claim(results)
	defer x.release(s)
	ctx = observability.WithStage(observability.WithBuildID(ctx, s.id), observability.StageWait)

	rep := report.New(s.id)
	rep.Start = s.start
	rep.SourceRevision = s.revision

	exit := ExitSuccess
	for i, r := range results {
		<-r.Done()
		o, _ := r.Outcome()
		if o.Target.IsZero() {
			o.Target = r.Target()
		}
		rep.Add(o)
		if !o.Success() {
			exit = ExitBuildFailure
		}
		x.publishTarget(ctx, s.id, targets[i], o)
	}
	rep.Finish(exit)

	if err := x.engine.RecordBuild(s.id, results); err != nil {
		observability.WarnContext(ctx, "Cannot record build references", logfields.Error(err))
	}

	if reportPath != "" {
		rctx := observability.WithStage(ctx, observability.StageReport)
		if err := rep.Persist(reportPath); err != nil {
			observability.ErrorContext(rctx, "Failed to write build report", logfields.Path(reportPath), logfields.Error(err))
		} else {
			observability.DebugContext(rctx, "Build report written", logfields.Path(reportPath))
		}
	}

	x.recorder.ObserveBuildDuration(rep.Duration())
	if exit == ExitSuccess {
		x.recorder.IncBuildOutcome(metrics.BuildSuccess)
	} else {
		x.recorder.IncBuildOutcome(metrics.BuildFailed)
	}

	observability.InfoContext(ctx, "Build finished",
		logfields.ExitCode(exit),
		logfields.Targets(len(results)),
		logfields.Duration(rep.Duration()))
	x.publish(ctx, func() (eventstore.Event, error) {
		return eventstore.NewBuildFinished(s.id, eventstore.BuildFinishedPayload{
			ExitCode:   exit,
			Outcome:    string(rep.Outcome),
			DurationMS: float64(rep.Duration().Microseconds()) / 1000,
			Counts:     rep.Counts.Map(),
			Report:     reportPath,
		})
	})
	return exit
}

func (x *LocalExecutor) publishTarget(ctx context.Context, buildID, raw string, o engine.Outcome) {
	p := eventstore.TargetPayload{
		Target:     o.Target.String(),
		Kind:       string(o.Kind),
		Status:     string(o.Status),
		RuleKey:    o.RuleKey,
		DurationMS: float64(o.Duration.Microseconds()) / 1000,
		Attempts:   o.Attempts,
	}
	if p.Target == "" || o.Target.IsZero() {
		p.Target = raw
	}
	if o.Success() {
		x.publish(ctx, func() (eventstore.Event, error) { return eventstore.NewTargetFinished(buildID, p) })
		return
	}
	if o.Err != nil {
		p.Error = o.Err.Error()
	}
	x.publish(ctx, func() (eventstore.Event, error) { return eventstore.NewTargetFailed(buildID, p) })
}

// publish delivers an event; sink failures are logged by the bus and ignored here.
func (x *LocalExecutor) publish(ctx context.Context, build func() (eventstore.Event, error)) {
	if x.bus == nil {
		return
	}
	e, err := build()
	if err != nil {
		observability.WarnContext(ctx, "Cannot create event", logfields.Error(err))
		return
	}
	_ = x.bus.Publish(ctx, e)
}

// claim returns the session that produced results, or a fresh one for
// handles that did not come from InitializeBuild.
func (x *LocalExecutor) claim(results []*engine.Result) *session {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, s := range x.sessions {
		if sameResults(s.results, results) {
			return s
		}
	}
	return &session{id: x.newID(), start: time.Now(), results: results}
}

func (x *LocalExecutor) release(s *session) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, cur := range x.sessions {
		if cur == s {
			x.sessions = append(x.sessions[:i], x.sessions[i+1:]...)
			return
		}
	}
}

func sameResults(a, b []*engine.Result) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// InFlight returns the number of started builds not yet waited for.
func (x *LocalExecutor) InFlight() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.sessions)
}

// Shutdown closes the engine and registered closers.
func (x *LocalExecutor) Shutdown() error {
	x.mu.Lock()
	if x.shutdown {
		x.mu.Unlock()
		return ErrAlreadyShutdown
	}
	if n := len(x.sessions); n > 0 {
		x.mu.Unlock()
		return fmt.Errorf("%w (%d pending)", ErrShutdownInFlight, n)
	}
	x.shutdown = true
	x.mu.Unlock()

	ctx := observability.WithStage(context.Background(), observability.StageClose)
	var errs []error
	if err := x.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range x.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		observability.ErrorContext(ctx, "Shutdown failed", logfields.Error(err))
		return foundation.FileSystemError("failed to release build resources").WithCause(err).Build()
	}
	return nil
}

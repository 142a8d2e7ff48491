// Package engine computes rule outputs. Every scheduled target becomes a
// Result that completes independently of the caller's cancellation; outputs
// are reused from an in-process memo or the artifact cache when the rule key
// matches.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"git.home.luguber.info/inful/rulebuilder/internal/buildfile"
	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
	"git.home.luguber.info/inful/rulebuilder/internal/metrics"
	"git.home.luguber.info/inful/rulebuilder/internal/observability"
	"git.home.luguber.info/inful/rulebuilder/internal/retry"
	"git.home.luguber.info/inful/rulebuilder/internal/storage"
	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

// DefaultOutputDir is used when no output directory is configured.
const DefaultOutputDir = "rb-out"

// Option configures a CachingEngine.
type Option func(*CachingEngine)

// WithStore enables the artifact cache backed by store. The engine owns the
// store and closes it on Close.
func WithStore(store storage.ObjectStore) Option {
	return func(e *CachingEngine) { e.store = store }
}

// WithRetryPolicy sets the default retry policy for rule execution.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *CachingEngine) { e.retry = p }
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *CachingEngine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithJobs bounds the number of rules executing at once.
func WithJobs(n int) Option {
	return func(e *CachingEngine) {
		if n > 0 {
			e.jobs = n
		}
	}
}

// WithOutputDir sets the output directory. Relative paths are resolved
// against the project root.
func WithOutputDir(dir string) Option {
	return func(e *CachingEngine) { e.outDir = dir }
}

// CachingEngine schedules rule computations on the dependency graph.
type CachingEngine struct {
	root     string
	outDir   string
	runner   Runner
	store    storage.ObjectStore
	retry    retry.Policy
	recorder metrics.Recorder
	jobs     int
	sem      *semaphore.Weighted
	flight   singleflight.Group
	inFlight atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	memo   map[string]string // output path -> rule key it was last written for
}

// New creates an engine for the project at root.
func New(root string, runner Runner, opts ...Option) *CachingEngine {
	if runner == nil {
		runner = NewShellRunner()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	e := &CachingEngine{
		root:     root,
		outDir:   DefaultOutputDir,
		runner:   runner,
		retry:    retry.DefaultPolicy(),
		recorder: metrics.NoopRecorder{},
		jobs:     1,
		memo:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !filepath.IsAbs(e.outDir) {
		e.outDir = filepath.Join(root, e.outDir)
	}
	e.sem = semaphore.NewWeighted(int64(e.jobs))
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Root returns the absolute project root.
func (e *CachingEngine) Root() string { return e.root }

// OutputDir returns the absolute output directory.
func (e *CachingEngine) OutputDir() string { return e.outDir }

// Jobs returns the execution parallelism.
func (e *CachingEngine) Jobs() int { return e.jobs }

// Store returns the artifact cache, or nil when caching is disabled.
func (e *CachingEngine) Store() storage.ObjectStore { return e.store }

// Closed reports whether Close has been called.
func (e *CachingEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// OutputPath returns where rule writes its output.
func (e *CachingEngine) OutputPath(rule *buildfile.Rule) string {
	return filepath.Join(e.outDir, "gen", filepath.FromSlash(rule.Target.Package), rule.Target.Name, filepath.FromSlash(rule.Out))
}

// Schedule starts the computation of targets and their dependencies and
// returns one result per requested target, in order. It does not block on
// the computations. A target requested twice shares one result. Cancelling
// ctx does not stop the computations; only Close does.
func (e *CachingEngine) Schedule(ctx context.Context, g *buildfile.Graph, targets []target.Target) ([]*Result, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(e.ctx, cancel)

	s := &schedule{engine: e, graph: g, ctx: runCtx, results: make(map[target.Target]*Result)}
	out := make([]*Result, len(targets))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		stop()
		cancel()
		return nil, ErrEngineClosed
	}
	for i, t := range targets {
		out[i] = s.ensure(t)
	}
	e.mu.Unlock()

	go func() {
		s.pending.Wait()
		stop()
		cancel()
	}()
	return out, nil
}

// RecordBuild stores the rule keys produced for results and their
// dependencies so cache collection keeps them. It is a no-op when the store
// does not track builds.
func (e *CachingEngine) RecordBuild(buildID string, results []*Result) error {
	refs, ok := e.store.(interface {
		AddBuildRef(buildID string, hashes []string) error
	})
	if !ok {
		return nil
	}
	seen := make(map[*Result]bool)
	var keys []string
	var walk func(r *Result)
	walk = func(r *Result) {
		if r == nil || seen[r] {
			return
		}
		seen[r] = true
		if o, done := r.Outcome(); done && o.Success() && o.RuleKey != "" {
			keys = append(keys, o.RuleKey)
		}
		for _, d := range r.deps {
			walk(d)
		}
	}
	for _, r := range results {
		walk(r)
	}
	return refs.AddBuildRef(buildID, keys)
}

// Close cancels running computations, waits for them to finish and closes
// the artifact cache. Calling Close more than once is a no-op.
func (e *CachingEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// schedule memoises results within one Schedule call.
type schedule struct {
	engine  *CachingEngine
	graph   *buildfile.Graph
	ctx     context.Context
	results map[target.Target]*Result
	pending sync.WaitGroup
}

// ensure must be called with engine.mu held.
func (s *schedule) ensure(t target.Target) *Result {
	if r, ok := s.results[t]; ok {
		return r
	}
	r := newResult(t)
	s.results[t] = r

	rule, ok := s.graph.Rule(t)
	if !ok {
		r.complete(Outcome{
			Status: StatusFailed,
			Err:    foundation.NotFoundError("target is not part of the build graph").WithContext("target", t.String()).Build(),
		})
		return r
	}

	deps := make([]*Result, len(rule.Deps))
	for i, d := range rule.Deps {
		deps[i] = s.ensure(d)
	}
	r.deps = deps

	s.pending.Add(1)
	s.engine.wg.Add(1)
	go func() {
		defer s.engine.wg.Done()
		defer s.pending.Done()
		r.complete(s.engine.compute(s.ctx, rule, deps))
	}()
	return r
}

type materialized struct {
	status   Status
	attempts int
}

func (e *CachingEngine) compute(ctx context.Context, rule *buildfile.Rule, deps []*Result) Outcome {
	start := time.Now()
	ctx = observability.WithStage(observability.WithTarget(ctx, rule.Target.String()), observability.StageExecute)
	o := Outcome{Target: rule.Target, Kind: rule.Kind}

	depKeys := make([]string, len(deps))
	depOuts := make([]string, len(deps))
	for i, d := range deps {
		<-d.Done()
		dep, _ := d.Outcome()
		if !dep.Success() {
			o.Status = StatusDepFailed
			o.Err = &DependencyError{Target: rule.Target, Dep: d.Target()}
			return e.finish(ctx, o, start)
		}
		depKeys[i] = dep.RuleKey
		depOuts[i] = dep.Output
	}

	key, err := RuleKey(e.root, rule, depKeys)
	if err != nil {
		o.Status = StatusFailed
		o.Err = err
		return e.finish(ctx, o, start)
	}
	o.RuleKey = key
	o.Output = e.OutputPath(rule)

	v, err, _ := e.flight.Do(key, func() (any, error) {
		return e.materialize(ctx, rule, key, o.Output, depOuts)
	})
	if m, ok := v.(materialized); ok {
		o.Attempts = m.attempts
		o.Status = m.status
	}
	if err != nil {
		o.Status = StatusFailed
		o.Err = err
	}
	return e.finish(ctx, o, start)
}

func (e *CachingEngine) materialize(ctx context.Context, rule *buildfile.Rule, key, out string, depOuts []string) (materialized, error) {
	if e.upToDate(key, out) {
		return materialized{status: StatusUpToDate}, nil
	}
	if e.restore(ctx, rule, key, out) {
		e.remember(key, out)
		return materialized{status: StatusCacheHit}, nil
	}

	dir := filepath.Join(e.root, filepath.FromSlash(rule.Target.Package))
	srcs := rule.SrcPaths()
	for i, src := range srcs {
		srcs[i] = filepath.Join(e.root, filepath.FromSlash(src))
	}
	step := Step{Rule: rule, Dir: dir, Srcs: srcs, DepOutputs: depOuts, Out: out}

	attempts, err := e.execute(ctx, step)
	if err != nil {
		e.forget(out)
		return materialized{status: StatusFailed, attempts: attempts}, err
	}
	e.remember(key, out)
	e.save(ctx, rule, key, out)
	return materialized{status: StatusBuilt, attempts: attempts}, nil
}

func (e *CachingEngine) execute(ctx context.Context, step Step) (int, error) {
	rule := step.Rule
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return 0, foundation.RuntimeError("interrupted before execution").WithCause(err).Build()
	}
	defer e.sem.Release(1)

	e.recorder.SetInFlight(int(e.inFlight.Add(1)))
	defer func() { e.recorder.SetInFlight(int(e.inFlight.Add(-1))) }()

	policy := e.retry
	if rule.HasRetries() {
		policy = policy.WithMaxRetries(rule.Retries)
	}

	return policy.Do(ctx, func(attempt int) error {
		step.Attempt = attempt
		if err := os.MkdirAll(filepath.Dir(step.Out), 0o750); err != nil {
			return foundation.FileSystemError("cannot create output directory").WithCause(err).Build()
		}
		_ = os.Remove(step.Out)
		if err := e.runner.Run(ctx, step); err != nil {
			return err
		}
		if _, err := os.Stat(step.Out); err != nil {
			return &RuleError{Target: rule.Target, Err: fmt.Errorf("rule did not produce %s", rule.Out)}
		}
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		e.recorder.IncRuleRetry(string(rule.Kind))
		observability.WarnContext(ctx, "Rule failed, retrying",
			logfields.Attempt(attempt),
			logfields.Error(err),
			logfields.Duration(delay))
	})
}

func (e *CachingEngine) upToDate(key, out string) bool {
	e.mu.Lock()
	k, ok := e.memo[out]
	e.mu.Unlock()
	if !ok || k != key {
		return false
	}
	_, err := os.Stat(out)
	return err == nil
}

func (e *CachingEngine) remember(key, out string) {
	e.mu.Lock()
	e.memo[out] = key
	e.mu.Unlock()
}

// forget drops the memo entry for out after a failed run may have touched it.
func (e *CachingEngine) forget(out string) {
	e.mu.Lock()
	delete(e.memo, out)
	e.mu.Unlock()
}

// restore copies a cached output into place. Cache errors only cause a miss.
func (e *CachingEngine) restore(ctx context.Context, rule *buildfile.Rule, key, out string) bool {
	if e.store == nil {
		return false
	}
	obj, err := e.store.Get(ctx, key)
	if err != nil {
		if !storage.IsNotFound(err) {
			observability.WarnContext(ctx, "Artifact cache read failed", logfields.RuleKey(key), logfields.Error(err))
		}
		e.recorder.IncCacheResult(false)
		return false
	}

	mode := os.FileMode(0o644)
	if raw, ok := obj.Metadata.Custom[storage.MetaMode]; ok {
		if m, perr := strconv.ParseUint(raw, 8, 32); perr == nil {
			mode = os.FileMode(m).Perm()
		}
	}
	if err := writeOutput(out, obj.Data, mode); err != nil {
		observability.WarnContext(ctx, "Cannot restore cached output",
			logfields.Target(rule.Target.String()), logfields.Path(out), logfields.Error(err))
		e.recorder.IncCacheResult(false)
		return false
	}
	e.recorder.IncCacheResult(true)
	return true
}

func (e *CachingEngine) save(ctx context.Context, rule *buildfile.Rule, key, out string) {
	if e.store == nil {
		return
	}
	info, err := os.Stat(out)
	if err != nil {
		return
	}
	data, err := os.ReadFile(out) // #nosec G304 -- output path is engine-controlled
	if err != nil {
		observability.WarnContext(ctx, "Cannot read output for caching", logfields.Path(out), logfields.Error(err))
		return
	}
	_, err = e.store.Put(ctx, &storage.Object{
		Hash: key,
		Type: storage.ObjectTypeRuleOutput,
		Size: int64(len(data)),
		Data: data,
		Metadata: storage.Metadata{Custom: map[string]string{
			storage.MetaTarget: rule.Target.String(),
			storage.MetaOutput: rule.Out,
			storage.MetaMode:   strconv.FormatUint(uint64(info.Mode().Perm()), 8),
		}},
	})
	if err != nil {
		observability.WarnContext(ctx, "Artifact cache write failed", logfields.RuleKey(key), logfields.Error(err))
	}
}

func (e *CachingEngine) finish(ctx context.Context, o Outcome, start time.Time) Outcome {
	o.Duration = time.Since(start)
	label := metrics.TargetStatusLabel(o.Status)
	e.recorder.ObserveTargetDuration(string(o.Kind), label, o.Duration)
	e.recorder.IncTargetOutcome(label)

	attrs := []slog.Attr{
		logfields.Status(string(o.Status)),
		logfields.Duration(o.Duration),
	}
	if o.RuleKey != "" {
		attrs = append(attrs, logfields.RuleKey(o.RuleKey))
	}
	if o.Err != nil {
		observability.WarnContext(ctx, "Target failed", append(attrs, logfields.Error(o.Err))...)
	} else {
		observability.DebugContext(ctx, "Target finished", attrs...)
	}
	return o
}

func writeOutput(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

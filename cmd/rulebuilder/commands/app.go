package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/rulebuilder/internal/build"
	"git.home.luguber.info/inful/rulebuilder/internal/buildfile"
	"git.home.luguber.info/inful/rulebuilder/internal/config"
	"git.home.luguber.info/inful/rulebuilder/internal/engine"
	"git.home.luguber.info/inful/rulebuilder/internal/events"
	"git.home.luguber.info/inful/rulebuilder/internal/eventstore"
	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/git"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
	"git.home.luguber.info/inful/rulebuilder/internal/metrics"
	"git.home.luguber.info/inful/rulebuilder/internal/retry"
	"git.home.luguber.info/inful/rulebuilder/internal/storage"
)

// appOptions are per-invocation overrides of the configuration.
type appOptions struct {
	Jobs    int
	NoCache bool
	Summary io.Writer
}

// app holds the wired build stack for one command invocation.
type app struct {
	cfg      *config.Config
	root     string
	parser   *buildfile.Parser
	engine   *engine.CachingEngine
	executor *build.LocalExecutor
	bus      *events.Bus
	events   *eventstore.SQLiteStore
	metrics  *metrics.Server
}

// projectPath resolves p against the project root unless it is absolute.
func projectPath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func rootDir(cfg *config.Config) (string, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return "", foundation.FileSystemError("cannot resolve project root").WithCause(err).WithContext("root", cfg.Root).Build()
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", foundation.ConfigError("project root is not a directory").WithContext("root", root).Build()
	}
	return root, nil
}

func newParser(cfg *config.Config, root string) *buildfile.Parser {
	return buildfile.NewParser(root,
		buildfile.WithFileName(cfg.BuildFile),
		buildfile.WithIgnoredDirs(cfg.OutputDir, cfg.Cache.Dir))
}

// newApp wires parser, engine, event bus and executor from cfg. The caller
// must call close.
func newApp(cfg *config.Config, opts appOptions) (_ *app, err error) {
	root, err := rootDir(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, root: root, parser: newParser(cfg, root)}

	var closers []io.Closer
	defer func() {
		if err == nil {
			return
		}
		for _, c := range closers {
			_ = c.Close()
		}
		if a.metrics != nil {
			_ = a.metrics.Shutdown(context.Background())
		}
	}()

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.ListenAddr != "" {
		reg := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		srv, serr := metrics.Serve(cfg.Metrics.ListenAddr, reg)
		if serr != nil {
			return nil, foundation.NetworkError("cannot serve metrics").WithCause(serr).WithContext("addr", cfg.Metrics.ListenAddr).Build()
		}
		a.metrics = srv
	}

	jobs := cfg.Jobs
	if opts.Jobs > 0 {
		jobs = opts.Jobs
	}
	engineOpts := []engine.Option{
		engine.WithJobs(jobs),
		engine.WithOutputDir(cfg.OutputDir),
		engine.WithRetryPolicy(retry.FromConfig(cfg.Retry)),
		engine.WithRecorder(recorder),
	}
	if cfg.Cache.IsEnabled() && !opts.NoCache {
		store, serr := storage.NewFSStore(projectPath(root, cfg.Cache.Dir))
		if serr != nil {
			return nil, foundation.CacheError("cannot open artifact cache").WithCause(serr).WithContext("dir", cfg.Cache.Dir).Build()
		}
		engineOpts = append(engineOpts, engine.WithStore(store))
		defer func() {
			if err != nil {
				_ = store.Close()
			}
		}()
	}

	a.events, err = eventstore.NewSQLiteStore(projectPath(root, cfg.Events.StorePath))
	if err != nil {
		return nil, err
	}
	closers = append(closers, a.events)

	a.bus = events.NewBusWithEventStore(a.events)
	a.bus.Subscribe(events.AllEvents, events.LogSubscriber(slog.Default()))
	if cfg.Events.NATSURL != "" {
		fwd, nerr := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.Subject)
		if nerr != nil {
			return nil, nerr
		}
		closers = append(closers, fwd)
		a.bus.Subscribe(events.AllEvents, fwd.Handle)
	}
	if opts.Summary != nil {
		a.bus.Subscribe(events.AllEvents, newSummaryPrinter(opts.Summary).Handle)
	}

	// The engine owns the cache store and the executor owns the rest.
	a.engine = engine.New(root, engine.NewShellRunner(), engineOpts...)
	a.executor = build.NewLocalExecutor(a.parser, a.engine,
		build.WithBus(a.bus),
		build.WithRecorder(recorder),
		build.WithRevision(revisionOf(root)),
		build.WithClosers(closers...))
	return a, nil
}

// close shuts the executor down and stops the metrics server.
func (a *app) close() error {
	var errs []error
	if err := a.executor.Shutdown(); err != nil && !errors.Is(err, build.ErrAlreadyShutdown) {
		errs = append(errs, err)
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// abortOnCancel closes the engine when ctx is canceled so running rules stop
// and pending handles complete. The returned function detaches the hook.
func (a *app) abortOnCancel(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		slog.Warn("Interrupted, stopping running rules")
		if err := a.engine.Close(); err != nil {
			slog.Warn("Engine close failed", logfields.Error(err))
		}
	})
}

func revisionOf(root string) func() string {
	return func() string {
		rev, err := git.HeadRevision(root)
		if err != nil {
			if !errors.Is(err, git.ErrNotRepository) {
				slog.Debug("Cannot resolve source revision", logfields.Error(err))
			}
			return ""
		}
		return rev.String()
	}
}

// signalContext returns a context canceled by the first SIGINT or SIGTERM.
// A second signal exits the process immediately.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigs:
			slog.Warn("Interrupt received, finishing up (interrupt again to force exit)")
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigs:
			os.Exit(foundation.ExitInterrupted)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		close(done)
		cancel()
	}
}

package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/rulebuilder/internal/build"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
	"git.home.luguber.info/inful/rulebuilder/internal/watch"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Targets  []string      `arg:"" name:"target" help:"Targets to rebuild"`
	Interval time.Duration `help:"Also rebuild periodically (overrides watch.interval)"`
	Debounce time.Duration `help:"Quiet period before a rebuild (overrides watch.debounce)"`
	Report   string        `name:"report" help:"Rewrite a build report after every build" type:"path"`
	Jobs     int           `short:"j" help:"Maximum number of rules executing at once (overrides config)"`
	NoCache  bool          `name:"no-cache" help:"Do not read or write the artifact cache"`
}

func (w *WatchCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	interval := cfg.Watch.IntervalDuration()
	if w.Interval > 0 {
		interval = w.Interval
	}
	debounce := cfg.Watch.DebounceDuration()
	if w.Debounce > 0 {
		debounce = w.Debounce
	}

	ctx, stop := signalContext(context.Background())
	defer stop()

	a, err := newApp(cfg, appOptions{Jobs: w.Jobs, NoCache: w.NoCache, Summary: os.Stdout})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil {
			slog.Warn("Failed to release build resources", logfields.Error(cerr))
		}
	}()

	return RunWatch(ctx, a, w.Targets, w.Report, debounce, interval)
}

// RunWatch builds targets once and then on every debounced source change or
// interval tick until ctx is canceled.
func RunWatch(ctx context.Context, a *app, targets []string, reportPath string, debounce, interval time.Duration) error {
	defer a.abortOnCancel(ctx)()

	d, err := watch.NewDebouncer(func(ctx context.Context, b watch.Batch) error {
		if ctx.Err() != nil {
			return nil
		}
		a.parser.InvalidateAll()
		slog.Info("Rebuilding",
			slog.String("cause", b.Cause),
			slog.Any("reasons", b.Reasons),
			slog.Int("changed", len(b.Paths)))
		code, err := a.executor.BuildAndReturnExitCode(ctx, targets, reportPath)
		if err != nil {
			if errors.Is(err, build.ErrExecutorShutdown) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		slog.Debug("Build completed", logfields.ExitCode(code))
		return nil
	}, watch.DebouncerConfig{QuietWindow: debounce})
	if err != nil {
		return err
	}

	fw, err := watch.NewWatcher(a.root, func(path string) {
		d.Request(watch.Trigger{Reason: watch.ReasonChange, Path: relPath(a.root, path)})
	}, watchExcludes(a, reportPath)...)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = fw.Stop() }()

	if interval > 0 {
		s, err := watch.NewScheduler()
		if err != nil {
			return err
		}
		if _, err := s.SchedulePeriodic(interval, d); err != nil {
			return err
		}
		s.Start()
		defer func() { _ = s.Stop() }()
	}

	d.Request(watch.Trigger{Reason: watch.ReasonStartup, Immediate: true})
	slog.Info("Watching for changes (interrupt to stop)", logfields.Targets(len(targets)))
	if err := d.Run(ctx); err != nil {
		return err
	}
	slog.Info("Watch stopped")
	return nil
}

// watchExcludes lists paths written by builds, which must not trigger rebuilds.
func watchExcludes(a *app, reportPath string) []string {
	excl := []string{
		projectPath(a.root, a.cfg.OutputDir),
		projectPath(a.root, a.cfg.Cache.Dir),
	}
	store := projectPath(a.root, a.cfg.Events.StorePath)
	if dir := filepath.Dir(store); dir != a.root {
		excl = append(excl, dir)
	} else {
		excl = append(excl, store, store+"-journal", store+"-wal", store+"-shm")
	}
	if reportPath != "" {
		if abs, err := filepath.Abs(reportPath); err == nil {
			excl = append(excl, abs, abs+".tmp")
		}
	}
	return excl
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// Package watch triggers rebuilds from file changes and periodic schedules.
package watch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
)

// Trigger reasons.
const (
	ReasonStartup  = "startup"
	ReasonChange   = "change"
	ReasonInterval = "interval"
)

// Debounce causes recorded on a Batch.
const (
	CauseQuiet     = "quiet"
	CauseMaxDelay  = "max_delay"
	CauseImmediate = "immediate"
)

// Trigger is a single rebuild request.
type Trigger struct {
	Reason    string
	Path      string
	Immediate bool
	At        time.Time
}

// Batch is the coalesced set of triggers handed to one build.
type Batch struct {
	Count   int
	Reasons []string
	Paths   []string
	First   time.Time
	Last    time.Time
	Cause   string
}

// BuildFunc runs one build for a batch of triggers.
type BuildFunc func(ctx context.Context, b Batch) error

// DebouncerConfig tunes how triggers are coalesced.
type DebouncerConfig struct {
	QuietWindow time.Duration
	// MaxDelay bounds how long a steady stream of triggers can postpone a build.
	MaxDelay time.Duration
}

// Debouncer coalesces bursts of triggers into single builds:
//   - a build starts once no trigger arrived for QuietWindow
//   - a build starts no later than MaxDelay after the first pending trigger
//   - triggers arriving while a build runs produce exactly one follow-up build
//
// Builds run one at a time on the goroutine calling Run.
type Debouncer struct {
	cfg   DebouncerConfig
	build BuildFunc

	notify    chan struct{}
	readyOnce sync.Once
	ready     chan struct{}

	mu        sync.Mutex
	count     int
	immediate bool
	first     time.Time
	last      time.Time
	reasons   map[string]struct{}
	paths     map[string]struct{}
}

// NewDebouncer creates a debouncer invoking build for each coalesced batch.
// MaxDelay defaults to ten quiet windows.
func NewDebouncer(build BuildFunc, cfg DebouncerConfig) (*Debouncer, error) {
	if build == nil {
		return nil, foundation.ValidationError("build function is required").Build()
	}
	if cfg.QuietWindow <= 0 {
		return nil, foundation.ValidationError("quiet window must be > 0").Build()
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * cfg.QuietWindow
	}
	if cfg.MaxDelay < cfg.QuietWindow {
		return nil, foundation.ValidationError("max delay must not be shorter than the quiet window").Build()
	}
	return &Debouncer{
		cfg:     cfg,
		build:   build,
		notify:  make(chan struct{}, 1),
		ready:   make(chan struct{}),
		reasons: map[string]struct{}{},
		paths:   map[string]struct{}{},
	}, nil
}

// Ready is closed once Run is accepting triggers.
func (d *Debouncer) Ready() <-chan struct{} {
	return d.ready
}

// Request records a trigger. It never blocks.
func (d *Debouncer) Request(t Trigger) {
	if t.At.IsZero() {
		t.At = time.Now()
	}

	d.mu.Lock()
	if d.count == 0 {
		d.first = t.At
	}
	d.count++
	d.last = t.At
	if t.Reason != "" {
		d.reasons[t.Reason] = struct{}{}
	}
	if t.Path != "" {
		d.paths[t.Path] = struct{}{}
	}
	if t.Immediate {
		d.immediate = true
	}
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of triggers not yet handed to a build.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Run processes triggers until ctx is done.
func (d *Debouncer) Run(ctx context.Context) error {
	if ctx == nil {
		return foundation.ValidationError("context cannot be nil").Build()
	}

	d.readyOnce.Do(func() { close(d.ready) })

	quietTimer := newStoppedTimer()
	maxTimer := newStoppedTimer()
	var (
		quietC <-chan time.Time
		maxC   <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			quietTimer.Stop()
			maxTimer.Stop()
			return nil

		case <-d.notify:
			if d.takeImmediate() {
				quietC, maxC = nil, nil
				d.emit(ctx, CauseImmediate)
				continue
			}
			resetTimer(quietTimer, d.cfg.QuietWindow)
			quietC = quietTimer.C
			if maxC == nil {
				resetTimer(maxTimer, d.cfg.MaxDelay)
				maxC = maxTimer.C
			}

		case <-quietC:
			quietC, maxC = nil, nil
			d.emit(ctx, CauseQuiet)

		case <-maxC:
			quietC, maxC = nil, nil
			d.emit(ctx, CauseMaxDelay)
		}
	}
}

func (d *Debouncer) takeImmediate() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.immediate && d.count > 0
}

// take drains pending triggers into a batch.
func (d *Debouncer) take(cause string) (Batch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.count == 0 {
		return Batch{}, false
	}
	b := Batch{
		Count:   d.count,
		Reasons: sortedKeys(d.reasons),
		Paths:   sortedKeys(d.paths),
		First:   d.first,
		Last:    d.last,
		Cause:   cause,
	}
	d.count = 0
	d.immediate = false
	d.reasons = map[string]struct{}{}
	d.paths = map[string]struct{}{}
	return b, true
}

func (d *Debouncer) emit(ctx context.Context, cause string) {
	b, ok := d.take(cause)
	if !ok {
		return
	}
	if err := d.build(ctx, b); err != nil {
		slog.Error("Triggered build failed",
			slog.String("cause", cause),
			slog.Int("triggers", b.Count),
			logfields.Error(err))
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(after)
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

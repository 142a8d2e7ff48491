package watch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDebouncer(t *testing.T, cfg DebouncerConfig, build BuildFunc) *Debouncer {
	t.Helper()
	d, err := NewDebouncer(build, cfg)
	require.NoError(t, err)

	go func() { _ = d.Run(t.Context()) }()

	select {
	case <-d.Ready():
	case <-time.After(250 * time.Millisecond):
		t.Fatal("timed out waiting for debouncer ready")
	}
	return d
}

func batchChan(size int) (chan Batch, BuildFunc) {
	ch := make(chan Batch, size)
	return ch, func(_ context.Context, b Batch) error {
		ch <- b
		return nil
	}
}

func TestNewDebouncer_Validation(t *testing.T) {
	noop := func(context.Context, Batch) error { return nil }

	_, err := NewDebouncer(nil, DebouncerConfig{QuietWindow: time.Second})
	require.Error(t, err)

	_, err = NewDebouncer(noop, DebouncerConfig{})
	require.Error(t, err)

	_, err = NewDebouncer(noop, DebouncerConfig{QuietWindow: time.Second, MaxDelay: time.Millisecond})
	require.Error(t, err)

	d, err := NewDebouncer(noop, DebouncerConfig{QuietWindow: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d.cfg.MaxDelay)
}

func TestDebouncer_BurstCoalescesToSingleBuild(t *testing.T) {
	batches, build := batchChan(10)
	d := startDebouncer(t, DebouncerConfig{QuietWindow: 25 * time.Millisecond, MaxDelay: time.Second}, build)

	for i := range 5 {
		d.Request(Trigger{Reason: ReasonChange, Path: []string{"a", "b", "a", "c", "b"}[i]})
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case got := <-batches:
		assert.Equal(t, 5, got.Count)
		assert.Equal(t, CauseQuiet, got.Cause)
		assert.Equal(t, []string{ReasonChange}, got.Reasons)
		assert.Equal(t, []string{"a", "b", "c"}, got.Paths)
		assert.False(t, got.Last.Before(got.First))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for build")
	}

	select {
	case <-batches:
		t.Fatal("expected only one build for burst")
	case <-time.After(75 * time.Millisecond):
	}
	assert.Zero(t, d.Pending())
}

func TestDebouncer_MaxDelayForcesBuild(t *testing.T) {
	batches, build := batchChan(10)
	d := startDebouncer(t, DebouncerConfig{QuietWindow: 40 * time.Millisecond, MaxDelay: 80 * time.Millisecond}, build)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		d.Request(Trigger{Reason: ReasonChange})
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case got := <-batches:
		assert.Equal(t, CauseMaxDelay, got.Cause)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for max-delay build")
	}
}

func TestDebouncer_ImmediateSkipsQuietWindow(t *testing.T) {
	batches, build := batchChan(10)
	d := startDebouncer(t, DebouncerConfig{QuietWindow: time.Second, MaxDelay: 2 * time.Second}, build)

	d.Request(Trigger{Reason: ReasonStartup, Immediate: true})

	select {
	case got := <-batches:
		assert.Equal(t, CauseImmediate, got.Cause)
		assert.Equal(t, []string{ReasonStartup}, got.Reasons)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for immediate build")
	}
}

func TestDebouncer_TriggersDuringBuildQueueOneFollowUp(t *testing.T) {
	release := make(chan struct{})
	var builds atomic.Int32
	batches := make(chan Batch, 10)
	build := func(_ context.Context, b Batch) error {
		n := builds.Add(1)
		batches <- b
		if n == 1 {
			<-release
		}
		return nil
	}
	d := startDebouncer(t, DebouncerConfig{QuietWindow: 20 * time.Millisecond, MaxDelay: 50 * time.Millisecond}, build)

	d.Request(Trigger{Reason: ReasonStartup, Immediate: true})
	select {
	case <-batches:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for first build")
	}

	for range 10 {
		d.Request(Trigger{Reason: ReasonChange, Path: "x"})
	}
	select {
	case <-batches:
		t.Fatal("expected no build while one is running")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 10, d.Pending())

	close(release)

	select {
	case got := <-batches:
		assert.Equal(t, 10, got.Count)
		assert.Equal(t, []string{"x"}, got.Paths)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for follow-up build")
	}

	select {
	case <-batches:
		t.Fatal("expected exactly one follow-up build")
	case <-time.After(75 * time.Millisecond):
	}
	assert.Equal(t, int32(2), builds.Load())
}

func TestDebouncer_BuildErrorKeepsRunning(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{}, 2)
	build := func(context.Context, Batch) error {
		calls.Add(1)
		done <- struct{}{}
		return assert.AnError
	}
	d := startDebouncer(t, DebouncerConfig{QuietWindow: 10 * time.Millisecond}, build)

	for range 2 {
		d.Request(Trigger{Reason: ReasonChange, Immediate: true})
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
			t.Fatal("timed out waiting for build")
		}
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestDebouncer_RunStopsOnCancel(t *testing.T) {
	d, err := NewDebouncer(func(context.Context, Batch) error { return nil }, DebouncerConfig{QuietWindow: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- d.Run(ctx) }()
	<-d.Ready()
	cancel()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Run did not return after cancel")
	}
}

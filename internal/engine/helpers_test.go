package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/rulebuilder/internal/buildfile"
	"git.home.luguber.info/inful/rulebuilder/internal/config"
	"git.home.luguber.info/inful/rulebuilder/internal/retry"
	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}
	return root
}

func loadGraph(t *testing.T, root string, raws ...string) (*buildfile.Graph, []target.Target) {
	t.Helper()
	ts, err := target.ParseAll(raws)
	require.NoError(t, err)
	g, err := buildfile.NewParser(root).Graph(context.Background(), ts)
	require.NoError(t, err)
	return g, ts
}

func waitAll(t *testing.T, results []*Result) []Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := make([]Outcome, len(results))
	for i, r := range results {
		o, err := r.Wait(ctx)
		require.NoError(t, err)
		out[i] = o
	}
	return out
}

func fastRetry(n int) retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, n)
}

var errInjected = errors.New("injected failure")

// fakeRunner writes the target name followed by the content of its sources
// and dependency outputs. Failures are injected per target name.
type fakeRunner struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int // remaining failures, -1 for always
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: map[string]int{}, failures: map[string]int{}}
}

func (f *fakeRunner) failAlways(name string) { f.failures[name] = -1 }
func (f *fakeRunner) failTimes(name string, n int) { f.failures[name] = n }

func (f *fakeRunner) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRunner) Run(_ context.Context, step Step) error {
	name := step.Rule.Target.String()
	f.mu.Lock()
	f.calls[name]++
	left, fail := f.failures[name]
	if fail && left > 0 {
		f.failures[name] = left - 1
	}
	f.mu.Unlock()
	if fail && left != 0 {
		return errInjected
	}

	var b strings.Builder
	b.WriteString(name)
	for _, p := range append(append([]string(nil), step.Srcs...), step.DepOutputs...) {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		b.WriteString("|")
		b.Write(data)
	}
	return os.WriteFile(step.Out, []byte(b.String()), 0o644)
}

package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveTargetDuration("genrule", TargetBuilt, 150*time.Millisecond)
	pr.IncTargetOutcome(TargetBuilt)
	pr.IncTargetOutcome(TargetFailed)
	pr.IncTargetOutcome(TargetFailed)
	pr.IncCacheResult(true)
	pr.IncCacheResult(false)
	pr.IncRuleRetry("genrule")
	pr.SetInFlight(3)
	pr.ObserveBuildDuration(500 * time.Millisecond)
	pr.IncBuildOutcome(BuildFailed)

	assert.InDelta(t, 2, gathered(t, reg, "rulebuilder_target_outcomes_total", "failed"), 0)
	assert.InDelta(t, 1, gathered(t, reg, "rulebuilder_artifact_cache_lookups_total", "hit"), 0)
	assert.InDelta(t, 3, gathered(t, reg, "rulebuilder_rules_in_flight", ""), 0)
	assert.InDelta(t, 1, gathered(t, reg, "rulebuilder_build_outcomes_total", "failed"), 0)
}

// gathered returns the value of the series of name whose label values
// include label (any series when label is empty).
func gathered(t *testing.T, reg *prom.Registry, name, label string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					match = true
				}
			}
			if !match {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncTargetOutcome(TargetBuilt)
	pr.SetInFlight(1)
	pr.ObserveBuildDuration(time.Second)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncBuildOutcome(BuildSuccess)
	r.ObserveTargetDuration("genrule", TargetCacheHit, time.Millisecond)
}

func TestServe(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncBuildOutcome(BuildSuccess)

	srv, err := Serve("127.0.0.1:0", reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rulebuilder_build_outcomes_total")
}

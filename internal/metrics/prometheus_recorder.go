package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "rulebuilder"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	targetDuration *prom.HistogramVec
	targetOutcome  *prom.CounterVec
	cacheResults   *prom.CounterVec
	ruleRetries    *prom.CounterVec
	inFlight       prom.Gauge
	buildDuration  prom.Histogram
	buildOutcome   *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them with reg.
// A nil registry gets a private one.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		targetDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "target_duration_seconds",
			Help:      "Duration of individual target computations",
			Buckets:   prom.DefBuckets,
		}, []string{"kind", "status"}),
		targetOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "target_outcomes_total",
			Help:      "Target outcomes by final status",
		}, []string{"status"}),
		cacheResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_cache_lookups_total",
			Help:      "Artifact cache lookups by result",
		}, []string{"result"}),
		ruleRetries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "rule_retries_total",
			Help:      "Rule execution retries after a failed attempt",
		}, []string{"kind"}),
		inFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_in_flight",
			Help:      "Rules currently executing",
		}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration from start to report",
			Buckets:   prom.DefBuckets,
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"}),
	}
	reg.MustRegister(pr.targetDuration, pr.targetOutcome, pr.cacheResults, pr.ruleRetries, pr.inFlight, pr.buildDuration, pr.buildOutcome)
	return pr
}

func (p *PrometheusRecorder) ObserveTargetDuration(kind string, status TargetStatusLabel, d time.Duration) {
	if p == nil {
		return
	}
	p.targetDuration.WithLabelValues(kind, string(status)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTargetOutcome(status TargetStatusLabel) {
	if p == nil {
		return
	}
	p.targetOutcome.WithLabelValues(string(status)).Inc()
}

func (p *PrometheusRecorder) IncCacheResult(hit bool) {
	if p == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	p.cacheResults.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncRuleRetry(kind string) {
	if p == nil {
		return
	}
	p.ruleRetries.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) SetInFlight(n int) {
	if p == nil {
		return
	}
	p.inFlight.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	if p == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

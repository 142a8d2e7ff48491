// Package metrics provides build and target metrics for rulebuilder.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics stay optional:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	eng := engine.New(runner, engine.WithRecorder(recorder))
//
// When metrics.listen_addr is configured the CLI serves the registry on
// /metrics via Serve.
package metrics

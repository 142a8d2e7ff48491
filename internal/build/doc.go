// Package build turns requested target identifiers into running target
// computations and folds their outcomes into a process exit status.
//
// A build is either run synchronously with BuildAndReturnExitCode or split
// into InitializeBuild, which resolves the targets and starts every
// computation without blocking, and WaitForBuildToFinish, which drains every
// handle, publishes per-target events and optionally writes a report.
//
// Failures of individual targets never surface as Go errors; they are
// published and folded into ExitBuildFailure. Setup failures (unreadable
// build files, unknown targets, interruption before execution) are returned
// as errors and no handles are produced.
package build

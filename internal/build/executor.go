package build

import (
	"context"
	"errors"

	"git.home.luguber.info/inful/rulebuilder/internal/engine"
)

// Exit statuses returned by builds.
const (
	ExitSuccess      = 0
	ExitBuildFailure = 1
	ExitSetupFailure = 2
)

var (
	// ErrShutdownInFlight is returned by Shutdown while a started build has not been waited for.
	ErrShutdownInFlight = errors.New("build: shutdown called while a build is in flight")
	// ErrAlreadyShutdown is returned by a second Shutdown call.
	ErrAlreadyShutdown = errors.New("build: executor already shut down")
	// ErrExecutorShutdown is returned when starting a build after Shutdown.
	ErrExecutorShutdown = errors.New("build: executor is shut down")
)

// Executor runs builds of target identifiers.
type Executor interface {
	// BuildAndReturnExitCode starts and waits for targets. Target failures
	// yield ExitBuildFailure; setup failures are returned as errors.
	BuildAndReturnExitCode(ctx context.Context, targets []string, reportPath string) (int, error)

	// InitializeBuild resolves targets and starts their computations. It
	// returns one handle per identifier, in order, without blocking on them.
	InitializeBuild(ctx context.Context, targets []string) ([]*engine.Result, error)

	// WaitForBuildToFinish blocks until every handle is terminal and returns
	// the aggregate status. targets and results must come from the same
	// InitializeBuild call. An empty reportPath writes no report.
	WaitForBuildToFinish(ctx context.Context, targets []string, results []*engine.Result, reportPath string) int

	// Engine returns the engine the executor was built with.
	Engine() *engine.CachingEngine

	// Shutdown releases the engine and the executor's sinks. It must be called
	// exactly once, after every started build has been waited for.
	Shutdown() error
}

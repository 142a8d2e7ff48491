package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Targets []string `arg:"" optional:"" name:"target" help:"Targets to build (//pkg:name)"`
	Report  string   `name:"report" help:"Write a build report (.json, .txt, .md or .html)" type:"path"`
	Jobs    int      `short:"j" help:"Maximum number of rules executing at once (overrides config)"`
	NoCache bool     `name:"no-cache" help:"Do not read or write the artifact cache"`
	Quiet   bool     `short:"q" help:"Do not print the build summary"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(context.Background())
	defer stop()

	var out io.Writer = os.Stdout
	if b.Quiet {
		out = nil
	}
	a, err := newApp(cfg, appOptions{Jobs: b.Jobs, NoCache: b.NoCache, Summary: out})
	if err != nil {
		return err
	}

	code, err := RunBuild(ctx, a, b.Targets, b.Report)
	if cerr := a.close(); cerr != nil {
		slog.Warn("Failed to release build resources", logfields.Error(cerr))
	}
	if err != nil {
		return err
	}
	g.ExitCode = code
	return nil
}

// RunBuild starts targets, waits for all of them and returns the build
// status. An interrupt stops running rules and is reported as an error after
// every handle has completed.
func RunBuild(ctx context.Context, a *app, targets []string, reportPath string) (int, error) {
	results, err := a.executor.InitializeBuild(ctx, targets)
	if err != nil {
		return 0, err
	}

	detach := a.abortOnCancel(ctx)
	code := a.executor.WaitForBuildToFinish(ctx, targets, results, reportPath)
	detach()

	if err := ctx.Err(); err != nil {
		return code, foundation.RuntimeError("build interrupted").WithCause(err).Build()
	}
	return code, nil
}

package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/rulebuilder/cmd/rulebuilder/commands"
	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("rulebuilder"),
		kong.Description("Build targets declared in BUILD.hcl files with caching and retries."),
		kong.Vars{"version": version.String()},
		kong.UsageOnError(),
	)

	global := &commands.Global{}
	if err := parser.Run(global, cli); err != nil {
		foundation.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
	os.Exit(global.ExitCode)
}

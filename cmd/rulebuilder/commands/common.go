package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/rulebuilder/internal/config"
	"git.home.luguber.info/inful/rulebuilder/internal/observability"
)

// Global is shared state passed to every subcommand.
type Global struct {
	// ExitCode is the process exit status when Run returns without error.
	ExitCode int
}

// CLI definition & global flags.
type CLI struct {
	Config   string           `short:"c" help:"Configuration file path" default:"rulebuilder.yaml" env:"RULEBUILDER_CONFIG"`
	Root     string           `short:"r" help:"Project root (overrides config root)"`
	Verbose  bool             `short:"v" help:"Enable verbose logging"`
	LogLevel string           `name:"log-level" help:"Log level (debug, info, warn, error); overrides config"`
	Version  kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Build targets and exit with the build status"`
	Targets TargetsCmd `cmd:"" help:"List targets declared in build files"`
	Watch   WatchCmd   `cmd:"" help:"Rebuild targets on source changes and on an interval"`
	Events  EventsCmd  `cmd:"" help:"Show build history or the events of one build"`
	Clean   CleanCmd   `cmd:"" help:"Remove build outputs and optionally prune caches"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once. Commands that load
// a configuration refine it with configureLogging.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := "info"
	if c.LogLevel != "" {
		level = c.LogLevel
	}
	if c.Verbose {
		level = "debug"
	}
	slog.SetDefault(observability.NewLogger(os.Stderr, level, string(config.LogFormatText)))
	return nil
}

// configureLogging applies the configured level and format unless flags override them.
func (c *CLI) configureLogging(cfg *config.Config) {
	level := string(cfg.Logging.Level)
	if c.LogLevel != "" {
		level = c.LogLevel
	}
	if c.Verbose {
		level = "debug"
	}
	slog.SetDefault(observability.NewLogger(os.Stderr, level, string(cfg.Logging.Format)))
}

// loadConfig reads the configuration file. The file is optional unless the
// path differs from the default.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config, c.Config != config.DefaultPath)
	if err != nil {
		return nil, err
	}
	if c.Root != "" {
		cfg.Root = c.Root
	}
	c.configureLogging(cfg)
	return cfg, nil
}

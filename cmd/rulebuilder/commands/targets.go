package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"git.home.luguber.info/inful/rulebuilder/internal/buildfile"
	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
)

// TargetsCmd implements the 'targets' command.
type TargetsCmd struct {
	Packages []string `arg:"" optional:"" name:"package" help:"Packages to list (//pkg or pkg); all packages when omitted"`
	Long     bool     `short:"l" help:"Show rule kind and output"`
}

func (t *TargetsCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	dir, err := rootDir(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(context.Background())
	defer stop()
	return ListTargets(ctx, os.Stdout, newParser(cfg, dir), t.Packages, t.Long)
}

// ListTargets writes the targets of pkgs, or of every package when pkgs is empty.
func ListTargets(ctx context.Context, w io.Writer, parser *buildfile.Parser, pkgs []string, long bool) error {
	if len(pkgs) == 0 {
		all, err := parser.Packages(ctx)
		if err != nil {
			return err
		}
		pkgs = all
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, raw := range pkgs {
		name := strings.TrimSuffix(strings.TrimPrefix(raw, "//"), "/")
		pkg, err := parser.Package(ctx, name)
		if errors.Is(err, buildfile.ErrNoBuildFile) {
			return foundation.NotFoundError(fmt.Sprintf("no %s in package //%s", parser.FileName(), name)).
				WithContext("package", name).
				Build()
		}
		if err != nil {
			return err
		}
		for _, r := range pkg.Rules() {
			if long {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Target, r.Kind, r.Out)
				continue
			}
			fmt.Fprintln(tw, r.Target.String())
		}
	}
	return tw.Flush()
}

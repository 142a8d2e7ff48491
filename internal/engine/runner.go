package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/rulebuilder/internal/buildfile"
)

// Step is one execution of a rule.
type Step struct {
	Rule *buildfile.Rule
	// Dir is the absolute package directory.
	Dir string
	// Srcs are absolute source paths in declaration order.
	Srcs []string
	// DepOutputs are absolute output paths of the direct dependencies.
	DepOutputs []string
	// Out is the absolute path the rule must produce.
	Out     string
	Attempt int
}

// Runner executes a rule step.
type Runner interface {
	Run(ctx context.Context, step Step) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, step Step) error

func (f RunnerFunc) Run(ctx context.Context, step Step) error { return f(ctx, step) }

const maxOutputTail = 4096

// ShellRunner runs genrule commands with the system shell and copies
// export_file sources.
type ShellRunner struct {
	Shell string
	// Log receives the combined output of each command when set.
	Log io.Writer
}

// NewShellRunner returns a ShellRunner using /bin/sh.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{Shell: "/bin/sh"}
}

func (r *ShellRunner) Run(ctx context.Context, step Step) error {
	switch step.Rule.Kind {
	case buildfile.KindExportFile:
		if len(step.Srcs) != 1 {
			return fmt.Errorf("export_file needs exactly one source, got %d", len(step.Srcs))
		}
		return copyFile(step.Srcs[0], step.Out)
	case buildfile.KindGenrule:
		return r.runShell(ctx, step)
	default:
		return fmt.Errorf("unsupported rule kind %q", step.Rule.Kind)
	}
}

func (r *ShellRunner) runShell(ctx context.Context, step Step) error {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	// #nosec G204 -- commands come from the project's build files
	cmd := exec.CommandContext(ctx, shell, "-c", step.Rule.Cmd)
	cmd.Dir = step.Dir
	cmd.Env = append(os.Environ(),
		"SRCS="+strings.Join(step.Srcs, " "),
		"DEPS="+strings.Join(step.DepOutputs, " "),
		"OUT="+step.Out,
		"SRCDIR="+step.Dir,
		"PACKAGE="+step.Rule.Target.Package,
		"NAME="+step.Rule.Target.Name,
	)

	var buf bytes.Buffer
	var out io.Writer = &buf
	if r.Log != nil {
		out = io.MultiWriter(&buf, r.Log)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RuleError{Target: step.Rule.Target, Output: tail(buf.String(), maxOutputTail), Err: err}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("export_file source is a directory: " + src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

package buildfile

import (
	"path"
	"strings"

	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

// Kind is the type of a rule.
type Kind string

const (
	// KindGenrule runs a shell command producing a single output file.
	KindGenrule Kind = "genrule"
	// KindExportFile copies a single source file to the output directory.
	KindExportFile Kind = "export_file"
)

// Rule is a resolved rule declaration.
type Rule struct {
	Target    target.Target
	Kind      Kind
	Srcs      []string // package-relative, slash separated
	Deps      []target.Target
	Cmd       string
	Out       string
	Retries   int // -1 when unset
	BuildFile string
	Line      int
}

// HasRetries reports whether the rule overrides the configured retry budget.
func (r *Rule) HasRetries() bool { return r.Retries >= 0 }

// SrcPaths returns the sources as slash separated paths relative to the project root.
func (r *Rule) SrcPaths() []string {
	out := make([]string, len(r.Srcs))
	for i, s := range r.Srcs {
		out[i] = path.Join(r.Target.Package, s)
	}
	return out
}

// Package is the parsed content of one build file.
type Package struct {
	Path      string
	BuildFile string
	rules     map[string]*Rule
	order     []string
}

// Rule returns the rule named name.
func (p *Package) Rule(name string) (*Rule, bool) {
	r, ok := p.rules[name]
	return r, ok
}

// Rules returns the rules in declaration order.
func (p *Package) Rules() []*Rule {
	out := make([]*Rule, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.rules[name])
	}
	return out
}

func cleanRelative(p string) (string, bool) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", false
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", false
	}
	return c, true
}

// Package buildfile parses BUILD.hcl files and resolves target graphs.
package buildfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

// DefaultFileName is the build file looked up in each package directory.
const DefaultFileName = "BUILD.hcl"

// ErrNoBuildFile is returned by Package when the package has no build file.
var ErrNoBuildFile = errors.New("no build file")

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "rule", LabelNames: []string{"kind", "name"}},
	},
}

type ruleBody struct {
	Srcs    []string `hcl:"srcs,optional"`
	Deps    []string `hcl:"deps,optional"`
	Cmd     string   `hcl:"cmd,optional"`
	Out     string   `hcl:"out,optional"`
	Retries *int     `hcl:"retries,optional"`
}

// Parser loads build files below a project root and caches parsed packages.
// It is safe for concurrent use.
type Parser struct {
	root     string
	fileName string
	ignore   map[string]bool

	mu    sync.Mutex
	cache map[string]*Package
}

// Option configures a Parser.
type Option func(*Parser)

// WithFileName overrides the build file name.
func WithFileName(name string) Option {
	return func(p *Parser) {
		if name != "" {
			p.fileName = name
		}
	}
}

// WithIgnoredDirs excludes directories (relative to root) from package discovery.
func WithIgnoredDirs(dirs ...string) Option {
	return func(p *Parser) {
		for _, d := range dirs {
			if c, ok := cleanRelative(filepath.ToSlash(d)); ok {
				p.ignore[c] = true
			}
		}
	}
}

// NewParser creates a parser rooted at root.
func NewParser(root string, opts ...Option) *Parser {
	p := &Parser{
		root:     root,
		fileName: DefaultFileName,
		ignore:   map[string]bool{},
		cache:    make(map[string]*Package),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Root returns the project root.
func (p *Parser) Root() string { return p.root }

// FileName returns the build file name.
func (p *Parser) FileName() string { return p.fileName }

// Package returns the parsed package, reading it on first use.
func (p *Parser) Package(ctx context.Context, pkg string) (*Package, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packageLocked(ctx, pkg)
}

func (p *Parser) packageLocked(ctx context.Context, pkg string) (*Package, error) {
	if cached, ok := p.cache[pkg]; ok {
		return cached, nil
	}

	rel := target.New(pkg, "").BuildFile(p.fileName)
	src, err := os.ReadFile(filepath.Join(p.root, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoBuildFile
		}
		return nil, foundation.WrapError(err, foundation.CategoryFileSystem, "failed to read build file").
			WithContext("path", rel).
			Build()
	}

	parsed, err := p.parse(pkg, rel, src)
	if err != nil {
		return nil, err
	}
	p.cache[pkg] = parsed
	slog.DebugContext(ctx, "Parsed build file", logfields.Path(rel), slog.Int("rules", len(parsed.order)))
	return parsed, nil
}

func (p *Parser) parse(pkg, rel string, src []byte) (*Package, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, rel)
	if diags.HasErrors() {
		return nil, buildFileErr(rel, "failed to parse build file", diags)
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, buildFileErr(rel, "failed to decode build file", diags)
	}

	out := &Package{Path: pkg, BuildFile: rel, rules: make(map[string]*Rule)}
	evalCtx := newEvalContext(filepath.Join(p.root, filepath.FromSlash(pkg)), pkg)

	for _, block := range content.Blocks {
		var body ruleBody
		if diags := gohcl.DecodeBody(block.Body, evalCtx, &body); diags.HasErrors() {
			return nil, buildFileErr(rel, "failed to decode rule", diags)
		}

		kind, name := Kind(block.Labels[0]), block.Labels[1]
		line := block.DefRange.Start.Line
		if _, dup := out.rules[name]; dup {
			return nil, ruleErr(rel, line, name, "duplicate rule name")
		}

		rule, err := newRule(pkg, rel, line, kind, name, body)
		if err != nil {
			return nil, err
		}
		out.rules[name] = rule
		out.order = append(out.order, name)
	}

	return out, nil
}

func newRule(pkg, rel string, line int, kind Kind, name string, body ruleBody) (*Rule, error) {
	t, err := target.ParseRelative(":"+name, pkg)
	if err != nil {
		return nil, ruleErr(rel, line, name, "invalid rule name")
	}

	rule := &Rule{Target: t, Kind: kind, Cmd: body.Cmd, Retries: -1, BuildFile: rel, Line: line}

	for _, s := range body.Srcs {
		c, ok := cleanRelative(s)
		if !ok {
			return nil, ruleErr(rel, line, name, fmt.Sprintf("source %q must be a relative path inside the package", s))
		}
		rule.Srcs = append(rule.Srcs, c)
	}

	for _, d := range body.Deps {
		dep, err := target.ParseRelative(d, pkg)
		if err != nil {
			return nil, foundation.WrapError(err, foundation.CategoryBuildFile, "invalid dependency").
				WithContext("path", rel).
				WithContext("line", line).
				WithContext("rule", name).
				Build()
		}
		if dep == t {
			return nil, ruleErr(rel, line, name, "rule depends on itself")
		}
		rule.Deps = append(rule.Deps, dep)
	}

	if body.Retries != nil {
		if *body.Retries < 0 {
			return nil, ruleErr(rel, line, name, "retries must not be negative")
		}
		rule.Retries = *body.Retries
	}

	switch kind {
	case KindGenrule:
		if strings.TrimSpace(body.Cmd) == "" {
			return nil, ruleErr(rel, line, name, "genrule requires cmd")
		}
		if body.Out == "" {
			return nil, ruleErr(rel, line, name, "genrule requires out")
		}
	case KindExportFile:
		if len(rule.Srcs) != 1 {
			return nil, ruleErr(rel, line, name, "export_file requires exactly one source")
		}
		if body.Cmd != "" {
			return nil, ruleErr(rel, line, name, "export_file does not accept cmd")
		}
		if body.Out == "" {
			body.Out = path.Base(rule.Srcs[0])
		}
	default:
		return nil, ruleErr(rel, line, name, fmt.Sprintf("unknown rule kind %q", kind))
	}

	out, ok := cleanRelative(body.Out)
	if !ok {
		return nil, ruleErr(rel, line, name, fmt.Sprintf("out %q must be a relative path", body.Out))
	}
	rule.Out = out
	return rule, nil
}

// Rule resolves a single target.
func (p *Parser) Rule(ctx context.Context, t target.Target) (*Rule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ruleLocked(ctx, t)
}

func (p *Parser) ruleLocked(ctx context.Context, t target.Target) (*Rule, error) {
	pkg, err := p.packageLocked(ctx, t.Package)
	if errors.Is(err, ErrNoBuildFile) {
		return nil, NewNoSuchTargetError(t)
	}
	if err != nil {
		return nil, err
	}
	rule, ok := pkg.Rule(t.Name)
	if !ok {
		return nil, NewMissingRuleError(t, pkg.BuildFile)
	}
	return rule, nil
}

// Invalidate drops cached packages so the next lookup re-reads them.
func (p *Parser) Invalidate(pkgs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pkg := range pkgs {
		delete(p.cache, pkg)
	}
}

// InvalidateAll drops every cached package.
func (p *Parser) InvalidateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.cache)
}

// Packages walks the root and returns every package that has a build file, sorted.
func (p *Parser) Packages(ctx context.Context) ([]string, error) {
	var pkgs []string
	err := filepath.WalkDir(p.root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(p.root, full)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && (strings.HasPrefix(d.Name(), ".") || p.ignore[rel]) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != p.fileName {
			return nil
		}
		pkg := path.Dir(rel)
		if pkg == "." {
			pkg = ""
		}
		pkgs = append(pkgs, pkg)
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, interrupted(ctxErr)
		}
		return nil, foundation.WrapError(err, foundation.CategoryFileSystem, "failed to scan for build files").
			WithContext("root", p.root).
			Build()
	}
	sort.Strings(pkgs)
	return pkgs, nil
}

func buildFileErr(rel, msg string, diags hcl.Diagnostics) error {
	return foundation.WrapError(diags, foundation.CategoryBuildFile, msg).
		WithContext("path", rel).
		UserAction().
		Build()
}

func ruleErr(rel string, line int, name, msg string) error {
	return foundation.BuildFileError(fmt.Sprintf("%s:%d: rule %q: %s", rel, line, name, msg)).
		WithContext("path", rel).
		WithContext("line", line).
		WithContext("rule", name).
		Build()
}

func interrupted(cause error) error {
	return foundation.RuntimeError("interrupted").WithCause(cause).Build()
}

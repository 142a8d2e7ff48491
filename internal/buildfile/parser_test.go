package buildfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

const libBuild = `
rule "genrule" "core" {
  srcs    = ["a.txt", "./b.txt"]
  deps    = [":base", "//common:header"]
  cmd     = "cat $SRCS > $OUT"
  out     = "core.txt"
  retries = 2
}

rule "export_file" "base" {
  srcs = ["data/base.txt"]
}

rule "genrule" "named" {
  cmd = upper("echo ${package_name}")
  out = format("%s.out", package_name)
}
`

func TestParser_Package(t *testing.T) {
	root := writeTree(t, map[string]string{"lib/BUILD.hcl": libBuild})
	p := NewParser(root)

	pkg, err := p.Package(context.Background(), "lib")
	require.NoError(t, err)
	assert.Equal(t, "lib/BUILD.hcl", pkg.BuildFile)

	rules := pkg.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, "core", rules[0].Target.Name)
	assert.Equal(t, "base", rules[1].Target.Name)

	core, ok := pkg.Rule("core")
	require.True(t, ok)
	assert.Equal(t, KindGenrule, core.Kind)
	assert.Equal(t, []string{"a.txt", "b.txt"}, core.Srcs)
	assert.Equal(t, []string{"lib/a.txt", "lib/b.txt"}, core.SrcPaths())
	assert.Equal(t, []target.Target{target.New("lib", "base"), target.New("common", "header")}, core.Deps)
	assert.Equal(t, "core.txt", core.Out)
	assert.True(t, core.HasRetries())
	assert.Equal(t, 2, core.Retries)
	assert.Equal(t, 2, core.Line)

	base, _ := pkg.Rule("base")
	assert.Equal(t, KindExportFile, base.Kind)
	assert.Equal(t, "base.txt", base.Out)
	assert.False(t, base.HasRetries())

	named, _ := pkg.Rule("named")
	assert.Equal(t, "ECHO LIB", named.Cmd)
	assert.Equal(t, "lib.out", named.Out)
}

func TestParser_Glob(t *testing.T) {
	root := writeTree(t, map[string]string{
		"web/BUILD.hcl": `
rule "genrule" "bundle" {
  srcs = glob("src/*.js")
  cmd  = "cat $SRCS > $OUT"
  out  = "bundle.js"
}
rule "genrule" "none" {
  srcs = glob("missing/*.css")
  cmd  = "touch $OUT"
  out  = "none.css"
}`,
		"web/src/b.js": "b",
		"web/src/a.js": "a",
	})
	p := NewParser(root)

	rule, err := p.Rule(context.Background(), target.New("web", "bundle"))
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.js", "src/b.js"}, rule.Srcs)

	none, err := p.Rule(context.Background(), target.New("web", "none"))
	require.NoError(t, err)
	assert.Empty(t, none.Srcs)
}

func TestParser_Invalid(t *testing.T) {
	tests := map[string]string{
		"syntax error":        `rule "genrule" "x" {`,
		"unknown block":       `target "x" {}`,
		"unknown kind":        `rule "binary" "x" { out = "x" }`,
		"genrule without cmd": `rule "genrule" "x" { out = "x" }`,
		"genrule without out": `rule "genrule" "x" { cmd = "true" }`,
		"export two srcs":     `rule "export_file" "x" { srcs = ["a", "b"] }`,
		"escaping src":        `rule "export_file" "x" { srcs = ["../secret"] }`,
		"absolute out":        `rule "genrule" "x" {
  cmd = "true"
  out = "/etc/x"
}`,
		"negative retries":    `rule "genrule" "x" {
  cmd = "true"
  out = "x"
  retries = -1
}`,
		"self dependency":     `rule "genrule" "x" {
  cmd = "true"
  out = "x"
  deps = [":x"]
}`,
		"bad dependency":      `rule "genrule" "x" {
  cmd = "true"
  out = "x"
  deps = ["nope"]
}`,
		"unknown attribute":   `rule "genrule" "x" {
  cmd = "true"
  out = "x"
  visibility = []
}`,
		"duplicate": `
rule "genrule" "x" {
  cmd = "true"
  out = "x"
}
rule "genrule" "x" {
  cmd = "true"
  out = "y"
}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			root := writeTree(t, map[string]string{"pkg/BUILD.hcl": body})
			_, err := NewParser(root).Package(context.Background(), "pkg")
			require.Error(t, err)
			assert.True(t, foundation.HasCategory(err, foundation.CategoryBuildFile), "got %v", err)
		})
	}
}

func TestParser_CachesAndInvalidates(t *testing.T) {
	root := writeTree(t, map[string]string{"a/BUILD.hcl": `rule "genrule" "one" {
  cmd = "true"
  out = "1"
}`})
	p := NewParser(root)
	ctx := context.Background()

	first, err := p.Package(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "BUILD.hcl"),
		[]byte(`rule "genrule" "two" {
  cmd = "true"
  out = "2"
}`), 0o644))

	cached, err := p.Package(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, first, cached)

	p.Invalidate("a")
	fresh, err := p.Package(ctx, "a")
	require.NoError(t, err)
	_, ok := fresh.Rule("two")
	assert.True(t, ok)

	p.InvalidateAll()
	again, err := p.Package(ctx, "a")
	require.NoError(t, err)
	assert.NotSame(t, fresh, again)
}

func TestParser_CustomFileName(t *testing.T) {
	root := writeTree(t, map[string]string{"a/TARGETS": `rule "genrule" "x" {
  cmd = "true"
  out = "x"
}`})
	p := NewParser(root, WithFileName("TARGETS"))

	rule, err := p.Rule(context.Background(), target.New("a", "x"))
	require.NoError(t, err)
	assert.Equal(t, "a/TARGETS", rule.BuildFile)
}

func TestParser_Packages(t *testing.T) {
	root := writeTree(t, map[string]string{
		"BUILD.hcl":             ``,
		"lib/BUILD.hcl":         ``,
		"lib/core/BUILD.hcl":    ``,
		"lib/core/README.md":    `docs`,
		"rb-out/gen/BUILD.hcl":  ``,
		".git/BUILD.hcl":        ``,
		"app/cmd/tool/BUILD.hcl": ``,
	})
	p := NewParser(root, WithIgnoredDirs("rb-out"))

	pkgs, err := p.Packages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"", "app/cmd/tool", "lib", "lib/core"}, pkgs)
}

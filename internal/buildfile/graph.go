package buildfile

import (
	"context"
	"sort"
	"strings"

	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

// Graph is an immutable, resolved dependency closure of a set of root targets.
type Graph struct {
	rules map[target.Target]*Rule
	order []target.Target
	roots []target.Target
}

// Rule returns the rule for t when t is part of the graph.
func (g *Graph) Rule(t target.Target) (*Rule, bool) {
	r, ok := g.rules[t]
	return r, ok
}

// Deps returns the direct dependencies of t.
func (g *Graph) Deps(t target.Target) []target.Target {
	if r, ok := g.rules[t]; ok {
		return r.Deps
	}
	return nil
}

// Targets returns every target in dependency order (dependencies first).
func (g *Graph) Targets() []target.Target {
	return append([]target.Target(nil), g.order...)
}

// Roots returns the requested targets in request order, duplicates included.
func (g *Graph) Roots() []target.Target {
	return append([]target.Target(nil), g.roots...)
}

// Len returns the number of distinct targets in the graph.
func (g *Graph) Len() int { return len(g.order) }

// Packages returns the distinct packages referenced by the graph, sorted.
func (g *Graph) Packages() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range g.order {
		if !seen[t.Package] {
			seen[t.Package] = true
			out = append(out, t.Package)
		}
	}
	sort.Strings(out)
	return out
}

// Graph resolves roots and their transitive dependencies. Roots are resolved
// in order and the first failure is returned: a *NoSuchTargetError for an
// unresolvable target, a build file error for syntax problems or cycles, or
// an interruption error when ctx is cancelled.
func (p *Parser) Graph(ctx context.Context, roots []target.Target) (*Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g := &Graph{
		rules: make(map[target.Target]*Rule),
		roots: append([]target.Target(nil), roots...),
	}

	const (
		visiting = 1
		done     = 2
	)
	state := map[target.Target]int{}
	var stack []target.Target

	var visit func(t target.Target) error
	visit = func(t target.Target) error {
		switch state[t] {
		case done:
			return nil
		case visiting:
			return cycleErr(stack, t)
		}
		if err := ctx.Err(); err != nil {
			return interrupted(err)
		}

		rule, err := p.ruleLocked(ctx, t)
		if err != nil {
			return err
		}

		state[t] = visiting
		stack = append(stack, t)
		for _, dep := range rule.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[t] = done

		g.rules[t] = rule
		g.order = append(g.order, t)
		return nil
	}

	for _, root := range roots {
		if err := visit(root); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func cycleErr(stack []target.Target, t target.Target) error {
	start := 0
	for i, s := range stack {
		if s == t {
			start = i
			break
		}
	}
	names := make([]string, 0, len(stack)-start+1)
	for _, s := range stack[start:] {
		names = append(names, s.FullyQualifiedName())
	}
	names = append(names, t.FullyQualifiedName())

	return foundation.BuildFileError("dependency cycle: "+strings.Join(names, " -> ")).
		WithContext("target", t.FullyQualifiedName()).
		Build()
}

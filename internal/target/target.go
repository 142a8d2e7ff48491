// Package target defines build target identifiers of the form //package/path:name.
package target

import (
	"path"
	"regexp"
	"sort"
	"strings"

	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
)

const rootPrefix = "//"

var (
	segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+$`)
	nameRegex    = regexp.MustCompile(`^[a-zA-Z0-9_.+=,@~-]+$`)
)

// Target is an immutable build target identifier. The zero value is not a
// valid target. Targets are comparable and may be used as map keys.
type Target struct {
	Package string
	Name    string
}

// New builds a target from an already validated package path and name.
func New(pkg, name string) Target {
	return Target{Package: pkg, Name: name}
}

// String returns the canonical //package:name form.
func (t Target) String() string {
	return t.FullyQualifiedName()
}

// FullyQualifiedName returns the canonical //package:name form.
func (t Target) FullyQualifiedName() string {
	return rootPrefix + t.Package + ":" + t.Name
}

// IsZero reports whether t is the zero target.
func (t Target) IsZero() bool {
	return t.Package == "" && t.Name == ""
}

// BuildFile returns the slash separated path of the build file declaring t,
// relative to the project root.
func (t Target) BuildFile(fileName string) string {
	if t.Package == "" {
		return fileName
	}
	return path.Join(t.Package, fileName)
}

// Parse parses an absolute identifier. The shorthand //pkg/dir expands to
// //pkg/dir:dir.
func Parse(raw string) (Target, error) {
	return parse(raw, "", false)
}

// ParseRelative parses an identifier that may use the :name form relative to pkg.
func ParseRelative(raw, pkg string) (Target, error) {
	return parse(raw, pkg, true)
}

// ParseAll parses every identifier, stopping at the first invalid one.
func ParseAll(raws []string) ([]Target, error) {
	out := make([]Target, 0, len(raws))
	for _, raw := range raws {
		t, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parse(raw, pkg string, allowRelative bool) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, invalid(raw, "identifier cannot be empty")
	}

	if strings.HasPrefix(s, ":") {
		if !allowRelative {
			return Target{}, invalid(raw, "relative identifier is only allowed inside a build file")
		}
		name := s[1:]
		if !nameRegex.MatchString(name) {
			return Target{}, invalid(raw, "invalid target name")
		}
		return Target{Package: pkg, Name: name}, nil
	}

	if !strings.HasPrefix(s, rootPrefix) {
		return Target{}, invalid(raw, "identifier must start with // or :")
	}
	s = strings.TrimPrefix(s, rootPrefix)

	pkgPart, name, hasColon := strings.Cut(s, ":")
	pkgPart = strings.TrimSuffix(pkgPart, "/")
	if err := validatePackage(raw, pkgPart); err != nil {
		return Target{}, err
	}

	if !hasColon {
		if pkgPart == "" {
			return Target{}, invalid(raw, "root package requires an explicit :name")
		}
		name = path.Base(pkgPart)
	}
	if !nameRegex.MatchString(name) {
		return Target{}, invalid(raw, "invalid target name")
	}

	return Target{Package: pkgPart, Name: name}, nil
}

func validatePackage(raw, pkg string) error {
	if pkg == "" {
		return nil
	}
	for _, seg := range strings.Split(pkg, "/") {
		if seg == "" {
			return invalid(raw, "package path contains empty segment")
		}
		if seg == "." || seg == ".." {
			return invalid(raw, "package path must not contain . or ..")
		}
		if !segmentRegex.MatchString(seg) {
			return invalid(raw, "invalid package segment "+seg)
		}
	}
	return nil
}

func invalid(raw, reason string) error {
	return foundation.ValidationError("invalid target identifier " + quote(raw) + ": " + reason).
		WithContext("identifier", raw).
		Build()
}

func quote(s string) string { return "'" + s + "'" }

// Sort orders targets by fully qualified name.
func Sort(ts []Target) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Package != ts[j].Package {
			return ts[i].Package < ts[j].Package
		}
		return ts[i].Name < ts[j].Name
	})
}

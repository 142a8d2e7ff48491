package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/rulebuilder/internal/buildfile"
	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
)

// keyVersion is mixed into every rule key; bump it when output layout changes.
const keyVersion = "rulebuilder/1"

// RuleKey computes the content address of a rule: its declaration, the
// contents of its sources and the keys of its dependencies in declaration order.
func RuleKey(root string, rule *buildfile.Rule, depKeys []string) (string, error) {
	h := sha256.New()
	field := func(name, value string) {
		fmt.Fprintf(h, "%s=%d:%s\n", name, len(value), value)
	}

	field("version", keyVersion)
	field("kind", string(rule.Kind))
	field("target", rule.Target.FullyQualifiedName())
	field("cmd", rule.Cmd)
	field("out", rule.Out)

	for _, src := range rule.SrcPaths() {
		sum, err := fileDigest(filepath.Join(root, filepath.FromSlash(src)))
		if err != nil {
			return "", foundation.FileSystemError("cannot hash source").
				WithCause(err).
				WithContext("target", rule.Target.FullyQualifiedName()).
				WithContext("src", src).
				Build()
		}
		field("src", src+"@"+sum)
	}
	for i, dep := range rule.Deps {
		key := ""
		if i < len(depKeys) {
			key = depKeys[i]
		}
		field("dep", dep.FullyQualifiedName()+"@"+key)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

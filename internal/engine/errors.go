package engine

import (
	"errors"
	"fmt"

	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

// ErrEngineClosed is returned when scheduling on a closed engine.
var ErrEngineClosed = errors.New("engine is closed")

// DependencyError marks a target that was skipped because a dependency failed.
type DependencyError struct {
	Target target.Target
	Dep    target.Target
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s of %s failed", e.Dep.FullyQualifiedName(), e.Target.FullyQualifiedName())
}

// RuleError is a failed rule execution, carrying the tail of its output.
type RuleError struct {
	Target target.Target
	Output string
	Err    error
}

func (e *RuleError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Target.FullyQualifiedName(), e.Err)
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *RuleError) Unwrap() error { return e.Err }

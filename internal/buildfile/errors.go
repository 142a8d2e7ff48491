package buildfile

import (
	"fmt"

	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

// NoSuchTargetKind distinguishes the two ways a target can fail to resolve.
type NoSuchTargetKind int

const (
	// TargetUnknown means the target does not exist anywhere in the project.
	TargetUnknown NoSuchTargetKind = iota
	// RuleMissingFromFile means the expected build file exists but declares no such rule.
	RuleMissingFromFile
)

func (k NoSuchTargetKind) String() string {
	if k == RuleMissingFromFile {
		return "rule_missing_from_file"
	}
	return "target_unknown"
}

// NoSuchTargetError reports a target identifier that could not be resolved.
// Its message is fixed at construction.
type NoSuchTargetError struct {
	kind      NoSuchTargetKind
	target    target.Target
	buildFile string
	message   string
}

// NewNoSuchTargetError reports a target that does not exist.
func NewNoSuchTargetError(t target.Target) *NoSuchTargetError {
	return &NoSuchTargetError{
		kind:    TargetUnknown,
		target:  t,
		message: fmt.Sprintf("No such target: '%s'", t.FullyQualifiedName()),
	}
}

// NewMissingRuleError reports a rule absent from the build file that should declare it.
func NewMissingRuleError(t target.Target, buildFile string) *NoSuchTargetError {
	return &NoSuchTargetError{
		kind:      RuleMissingFromFile,
		target:    t,
		buildFile: buildFile,
		message: fmt.Sprintf(
			"The rule %s could not be found.\nPlease check the spelling and whether it exists in %s.",
			t.FullyQualifiedName(), buildFile),
	}
}

func (e *NoSuchTargetError) Error() string {
	return e.message
}

// HumanReadableErrorMessage returns the message shown to users.
func (e *NoSuchTargetError) HumanReadableErrorMessage() string {
	return e.message
}

// Kind reports which form the error was constructed with.
func (e *NoSuchTargetError) Kind() NoSuchTargetKind { return e.kind }

// Target returns the unresolved target.
func (e *NoSuchTargetError) Target() target.Target { return e.target }

// BuildFile returns the build file searched, empty for TargetUnknown.
func (e *NoSuchTargetError) BuildFile() string { return e.buildFile }

package errors

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: 0,
		},
		{
			name: "classified validation error",
			err: NewError(CategoryValidation, "invalid input").
				WithSeverity(SeverityError).
				Build(),
			expected: ExitUsage,
		},
		{
			name:     "build file error",
			err:      BuildFileError("cycle").Build(),
			expected: ExitResolution,
		},
		{
			name:     "config error",
			err:      ConfigError("bad config").Build(),
			expected: ExitConfig,
		},
		{
			name:     "filesystem error wrapped",
			err:      fmt.Errorf("reading: %w", FileSystemError("read failed").Build()),
			expected: ExitBuild,
		},
		{
			name:     "human readable resolution error",
			err:      &humanError{msg: "No such target: '//a:b'"},
			expected: ExitResolution,
		},
		{
			name:     "classified error caused by a resolution error",
			err:      BuildError("setup failed").WithCause(&humanError{msg: "No such target: '//a:b'"}).Build(),
			expected: ExitResolution,
		},
		{
			name:     "interrupted",
			err:      RuntimeError("interrupted").WithCause(context.Canceled).Build(),
			expected: ExitInterrupted,
		},
		{
			name:     "unclassified error",
			err:      &customError{msg: "unknown error"},
			expected: ExitGeneral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "nil error",
			err:      nil,
			contains: "",
		},
		{
			name: "internal error in non-verbose mode",
			err: NewError(CategoryInternal, "internal issue").
				WithSeverity(SeverityError).
				Build(),
			contains: "Internal error occurred (use -v for details)",
		},
		{
			name:     "config error",
			err:      ConfigError("bad config").Build(),
			contains: "bad config",
		},
		{
			name:     "human readable message is printed verbatim",
			err:      fmt.Errorf("resolve: %w", &humanError{msg: "No such target: '//a:b'"}),
			contains: "No such target: '//a:b'",
		},
		{
			name:     "human readable cause wins over classification",
			err:      BuildError("setup failed").WithCause(&humanError{msg: "No such target: '//a:b'"}).Build(),
			contains: "No such target: '//a:b'",
		},
		{
			name:     "unclassified error",
			err:      &customError{msg: "unknown error"},
			contains: "Error: unknown error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adapter.FormatError(tt.err)
			if tt.contains == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.contains)
		})
	}
}

func TestCLIErrorAdapter_VerboseShowsFullError(t *testing.T) {
	adapter := NewCLIErrorAdapter(true, slog.Default())
	err := InternalError("engine closed twice").Build()
	assert.Equal(t, err.Error(), adapter.FormatError(err))
}

// customError is a test helper for unclassified errors
type customError struct {
	msg string
}

func (e *customError) Error() string {
	return e.msg
}

type humanError struct {
	msg string
}

func (e *humanError) Error() string                     { return e.msg }
func (e *humanError) HumanReadableErrorMessage() string { return e.msg }

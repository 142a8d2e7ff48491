// Package errors provides foundational, type-safe error primitives used across rulebuilder.
//
// Key features:
//   - ErrorCategory: Broad error classification (config, buildfile, build, cache, etc.)
//   - ErrorSeverity: Impact level (fatal, error, warning, info)
//   - RetryStrategy: Retry behavior (never, backoff, user action)
//   - ClassifiedError: Structured error with category, severity, and context
//   - ErrorBuilder: Fluent API for creating classified errors
//   - CLIErrorAdapter: exit codes and user-facing messages for the CLI
//
// Example usage:
//
//	err := errors.WrapError(readErr, errors.CategoryFileSystem, "read build file").
//		WithContext("path", path).
//		Build()
package errors

package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyTarget     = "target"
	KeyTargets    = "targets"
	KeyRuleKind   = "rule_kind"
	KeyRuleKey    = "rule_key"
	KeyStatus     = "status"
	KeyExitCode   = "exit_code"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyCache      = "cache"
	KeyAttempt    = "attempt"
	KeyPackage    = "package"
	KeyPath       = "path"
	KeyEventType  = "event_type"
	KeySubject    = "subject"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func Target(t string) slog.Attr       { return slog.String(KeyTarget, t) }
func Targets(n int) slog.Attr         { return slog.Int(KeyTargets, n) }
func RuleKind(k string) slog.Attr     { return slog.String(KeyRuleKind, k) }
func RuleKey(k string) slog.Attr      { return slog.String(KeyRuleKey, k) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func ExitCode(c int) slog.Attr        { return slog.Int(KeyExitCode, c) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Cache(result string) slog.Attr   { return slog.String(KeyCache, result) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Package(p string) slog.Attr      { return slog.String(KeyPackage, p) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func EventType(t string) slog.Attr    { return slog.String(KeyEventType, t) }
func Subject(s string) slog.Attr      { return slog.String(KeySubject, s) }

// Duration converts d to milliseconds under KeyDurationMS.
func Duration(d time.Duration) slog.Attr {
	return DurationMS(float64(d.Microseconds()) / 1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"git.home.luguber.info/inful/rulebuilder/internal/eventstore"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
)

// LogSubscriber returns a handler that writes each event to logger. Target
// failures are logged at warn level.
func LogSubscriber(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, e eventstore.Event) error {
		attrs := []slog.Attr{
			logfields.BuildID(e.BuildID()),
			logfields.EventType(e.Type()),
		}
		level := slog.LevelInfo

		switch e.Type() {
		case eventstore.TypeTargetFinished, eventstore.TypeTargetFailed:
			var p eventstore.TargetPayload
			if err := json.Unmarshal(e.Payload(), &p); err == nil {
				attrs = append(attrs, logfields.Target(p.Target), logfields.Status(p.Status))
				if p.Error != "" {
					attrs = append(attrs, slog.String(logfields.KeyError, p.Error))
				}
			}
			if e.Type() == eventstore.TypeTargetFailed {
				level = slog.LevelWarn
			} else {
				level = slog.LevelDebug
			}
		case eventstore.TypeBuildFinished:
			var p eventstore.BuildFinishedPayload
			if err := json.Unmarshal(e.Payload(), &p); err == nil {
				attrs = append(attrs, logfields.ExitCode(p.ExitCode), logfields.DurationMS(p.DurationMS))
			}
		case eventstore.TypeBuildStarted:
			var p eventstore.BuildStartedPayload
			if err := json.Unmarshal(e.Payload(), &p); err == nil {
				attrs = append(attrs, logfields.Targets(len(p.Targets)))
			}
		}

		logger.LogAttrs(ctx, level, "Build event", attrs...)
		return nil
	}
}

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/rulebuilder/internal/eventstore"
	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
)

// EventsCmd implements the 'events' command.
type EventsCmd struct {
	BuildID string `arg:"" optional:"" name:"build-id" help:"Show the events of this build; list recent builds when omitted"`
	Limit   int    `short:"n" help:"Number of builds to list" default:"20"`
}

func (e *EventsCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	dir, err := rootDir(cfg)
	if err != nil {
		return err
	}
	store, err := eventstore.NewSQLiteStore(projectPath(dir, cfg.Events.StorePath))
	if err != nil {
		return foundation.EventStoreError("cannot open event store").WithCause(err).Build()
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signalContext(context.Background())
	defer stop()

	if e.BuildID != "" {
		return PrintBuildEvents(ctx, os.Stdout, store, e.BuildID)
	}
	return PrintHistory(ctx, os.Stdout, store, e.Limit)
}

// PrintHistory lists the most recent finished builds, newest first.
func PrintHistory(ctx context.Context, w io.Writer, store eventstore.Store, limit int) error {
	projection := eventstore.NewBuildHistoryProjection(store, limit)
	if err := projection.Rebuild(ctx); err != nil {
		return foundation.EventStoreError("cannot read build history").WithCause(err).Build()
	}

	history := projection.GetHistory()
	if len(history) == 0 {
		_, err := fmt.Fprintln(w, "No builds recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUILD\tSTARTED\tSTATUS\tEXIT\tDURATION\tTARGETS\tREVISION")
	for _, b := range history {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			b.BuildID,
			b.StartedAt.Local().Format(time.DateTime),
			b.Status,
			b.ExitCode,
			b.Duration.Round(time.Millisecond),
			len(b.Targets),
			shortRevision(b.Revision))
	}
	return tw.Flush()
}

// PrintBuildEvents writes every stored event of one build in order.
func PrintBuildEvents(ctx context.Context, w io.Writer, store eventstore.Store, buildID string) error {
	evts, err := store.GetByBuildID(ctx, buildID)
	if err != nil {
		return foundation.EventStoreError("cannot read build events").WithCause(err).WithContext("build_id", buildID).Build()
	}
	if len(evts) == 0 {
		return foundation.NotFoundError(fmt.Sprintf("no events recorded for build %s", buildID)).
			WithContext("build_id", buildID).
			Build()
	}

	for _, e := range evts {
		if _, err := fmt.Fprintf(w, "%s  %-15s %s\n",
			e.Timestamp().Local().Format("15:04:05.000"), e.Type(), strings.TrimSpace(string(e.Payload()))); err != nil {
			return err
		}
	}
	return nil
}

func shortRevision(rev string) string {
	if len(rev) > 12 && !strings.HasSuffix(rev, "+dirty") {
		return rev[:12]
	}
	if strings.HasSuffix(rev, "+dirty") && len(rev) > 18 {
		return rev[:12] + "+dirty"
	}
	return rev
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"git.home.luguber.info/inful/rulebuilder/internal/config"
	"git.home.luguber.info/inful/rulebuilder/internal/eventstore"
	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/storage"
)

// CleanCmd implements the 'clean' command.
type CleanCmd struct {
	Cache           bool          `help:"Garbage-collect the artifact cache"`
	Keep            int           `help:"Recent builds whose cached outputs survive --cache" default:"5"`
	EventsOlderThan time.Duration `name:"events-older-than" help:"Prune stored events older than this duration"`
}

// CleanResult summarizes what a clean removed.
type CleanResult struct {
	OutputDir     string
	CacheObjects  int
	EventsRemoved int64
}

func (c *CleanCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(context.Background())
	defer stop()

	res, err := RunClean(ctx, cfg, *c)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", res.OutputDir)
	if c.Cache {
		fmt.Printf("Removed %d cached objects\n", res.CacheObjects)
	}
	if c.EventsOlderThan > 0 {
		fmt.Printf("Pruned %d events\n", res.EventsRemoved)
	}
	return nil
}

// RunClean removes the output directory and, when requested, prunes the
// artifact cache and the event store.
func RunClean(ctx context.Context, cfg *config.Config, opts CleanCmd) (CleanResult, error) {
	root, err := rootDir(cfg)
	if err != nil {
		return CleanResult{}, err
	}

	res := CleanResult{OutputDir: projectPath(root, cfg.OutputDir)}
	if err := os.RemoveAll(res.OutputDir); err != nil {
		return res, foundation.FileSystemError("cannot remove output directory").WithCause(err).WithContext("path", res.OutputDir).Build()
	}

	if opts.Cache {
		n, err := gcCache(ctx, projectPath(root, cfg.Cache.Dir), opts.Keep)
		if err != nil {
			return res, err
		}
		res.CacheObjects = n
	}

	if opts.EventsOlderThan > 0 {
		store, err := eventstore.NewSQLiteStore(projectPath(root, cfg.Events.StorePath))
		if err != nil {
			return res, foundation.EventStoreError("cannot open event store").WithCause(err).Build()
		}
		defer func() { _ = store.Close() }()
		n, err := store.Prune(ctx, time.Now().Add(-opts.EventsOlderThan))
		if err != nil {
			return res, foundation.EventStoreError("cannot prune events").WithCause(err).Build()
		}
		res.EventsRemoved = n
	}
	return res, nil
}

// gcCache keeps the objects referenced by the keep most recent builds.
func gcCache(ctx context.Context, dir string, keep int) (int, error) {
	store, err := storage.NewFSStore(dir)
	if err != nil {
		return 0, foundation.CacheError("cannot open artifact cache").WithCause(err).WithContext("dir", dir).Build()
	}
	defer func() { _ = store.Close() }()

	referenced := map[string]bool{}
	if keep > 0 {
		builds, err := store.RecentBuildRefs(keep)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, foundation.CacheError("cannot read build references").WithCause(err).Build()
		}
		for _, id := range builds {
			hashes, err := store.GetBuildRef(id)
			if err != nil {
				return 0, foundation.CacheError("cannot read build references").WithCause(err).WithContext("build_id", id).Build()
			}
			for _, h := range hashes {
				referenced[h] = true
			}
		}
	}

	n, err := store.GC(ctx, referenced)
	if err != nil {
		return n, foundation.CacheError("cache garbage collection failed").WithCause(err).Build()
	}
	return n, nil
}

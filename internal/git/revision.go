package git

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"

	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
)

// ErrNotRepository is returned when the path is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Revision identifies the checked out commit of a work tree.
type Revision struct {
	Commit string
	Branch string // empty when HEAD is detached
	Dirty  bool
}

// Short returns the abbreviated commit with a +dirty suffix for modified trees.
func (r Revision) Short() string {
	c := r.Commit
	if len(c) > 12 {
		c = c[:12]
	}
	if r.Dirty {
		c += "+dirty"
	}
	return c
}

func (r Revision) String() string {
	if r.Dirty {
		return r.Commit + "+dirty"
	}
	return r.Commit
}

// HeadRevision opens the repository containing path and resolves HEAD.
func HeadRevision(path string) (Revision, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Revision{}, ErrNotRepository
		}
		return Revision{}, foundation.GitError("open repository").WithCause(err).WithContext("path", path).Build()
	}

	head, err := repo.Head()
	if err != nil {
		return Revision{}, foundation.GitError("resolve HEAD").WithCause(err).WithContext("path", path).Build()
	}

	rev := Revision{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		rev.Branch = head.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return rev, nil
	}
	status, err := wt.Status()
	if err != nil {
		return rev, fmt.Errorf("worktree status: %w", err)
	}
	rev.Dirty = !status.IsClean()
	return rev, nil
}

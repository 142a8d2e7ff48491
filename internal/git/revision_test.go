package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, dir string) string {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BUILD.hcl"), []byte("# empty\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("BUILD.hcl")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestHeadRevision(t *testing.T) {
	dir := t.TempDir()
	commit := commitFile(t, dir)

	sub := filepath.Join(dir, "pkg", "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	rev, err := HeadRevision(sub)
	require.NoError(t, err)
	assert.Equal(t, commit, rev.Commit)
	assert.Equal(t, "master", rev.Branch)
	assert.False(t, rev.Dirty)
	assert.Len(t, rev.Short(), 12)
}

func TestHeadRevision_Dirty(t *testing.T) {
	dir := t.TempDir()
	commitFile(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BUILD.hcl"), []byte("# changed\n"), 0o644))

	rev, err := HeadRevision(dir)
	require.NoError(t, err)
	assert.True(t, rev.Dirty)
	assert.Contains(t, rev.String(), "+dirty")
}

func TestHeadRevision_NotRepository(t *testing.T) {
	_, err := HeadRevision(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRepository)
}

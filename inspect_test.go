package hubcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/hubcache/internal/testutil"
)

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	root := t.TempDir()
	c, err := New(root, WithHubDir(filepath.Join(root, "hub")))
	require.NoError(t, err)
	return c, root
}

func TestInspectRepo(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	repoDir := testutil.PopulatedRepo(t, c.HubDir(), "Owner", "Name", 3)
	// One regular file and a nested symlink alongside the blob links.
	testutil.SnapshotFile(t, repoDir, testutil.CommitA, "notes.txt", []byte("plain"))
	testutil.LinkSnapshot(t, repoDir, testutil.CommitA, "sub/dir/extra.bin",
		"0000000000000000000000000000000000000000000000000000000000000000")

	fp, err := InspectRepo(repoDir)
	require.NoError(t, err)

	assert.Equal(t, "models--Owner--Name", fp.Name)
	assert.True(t, fp.HasRefs)
	assert.Equal(t, testutil.CommitA, fp.Ref("main"))
	assert.True(t, fp.HasBlobs)
	assert.Equal(t, 3, fp.BlobCount)
	assert.True(t, fp.HasSnapshots)
	require.Len(t, fp.Snapshots, 1)

	snap := fp.Snapshots[0]
	assert.Equal(t, testutil.CommitA, snap.Commit)
	assert.Equal(t, 5, snap.FileCount, "3 links + 1 regular file + 1 nested link")
	assert.Equal(t, 4, snap.SymlinkCount)
}

func TestInspectRepoMissingSections(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	repoDir := testutil.MkRepo(t, c.HubDir(), "models--Owner--Empty")

	fp, err := InspectRepo(repoDir)
	require.NoError(t, err)

	assert.False(t, fp.HasRefs)
	assert.False(t, fp.HasBlobs)
	assert.Zero(t, fp.BlobCount)
	assert.False(t, fp.HasSnapshots)
	assert.Empty(t, fp.Snapshots)
}

func TestInspectRepoNotARepo(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "some-random-dir")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, err := InspectRepo(dir)
	assert.ErrorIs(t, err, ErrNotARepo)
}

func TestInspectRepoMissingDir(t *testing.T) {
	t.Parallel()

	_, err := InspectRepo(filepath.Join(t.TempDir(), "models--a--b"))
	assert.True(t, IsAccess(err), "want AccessError, got %v", err)
}

func TestInspectIdempotent(t *testing.T) {
	t.Parallel()

	c, root := newTestCache(t)
	testutil.PopulatedRepo(t, c.HubDir(), "Owner", "Name", 2)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "models", "Owner", "Name"), 0o755))

	ins, err := NewInspector(c)
	require.NoError(t, err)

	first, err := ins.Inspect(context.Background())
	require.NoError(t, err)
	second, err := ins.Inspect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestInspectSkipsUnrelatedEntries(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	testutil.PopulatedRepo(t, c.HubDir(), "Owner", "Name", 1)
	require.NoError(t, os.WriteFile(filepath.Join(c.HubDir(), "version.txt"), []byte("1"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(c.HubDir(), "tmp-scratch"), 0o755))

	ins, err := NewInspector(c)
	require.NoError(t, err)
	fp, err := ins.Inspect(context.Background())
	require.NoError(t, err)

	require.Len(t, fp.HubRepos, 1)
	assert.Equal(t, "models--Owner--Name", fp.HubRepos[0].Name)
}

func TestInspectDegradedRepo(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	testutil.PopulatedRepo(t, c.HubDir(), "Good", "Repo", 1)
	// refs as a regular file makes the repo unreadable as a repo without
	// being a permissions problem, so the test also runs as root.
	brokenDir := testutil.MkRepo(t, c.HubDir(), "models--Bad--Repo")
	require.NoError(t, os.WriteFile(filepath.Join(brokenDir, "refs"), []byte("x"), 0o644))

	ins, err := NewInspector(c)
	require.NoError(t, err)
	fp, err := ins.Inspect(context.Background())
	require.NoError(t, err)

	require.Len(t, fp.HubRepos, 2)
	var degraded *RepoFingerprint
	for i := range fp.HubRepos {
		if fp.HubRepos[i].Name == "models--Bad--Repo" {
			degraded = &fp.HubRepos[i]
		}
	}
	require.NotNil(t, degraded)
	assert.False(t, degraded.HasRefs)
	assert.False(t, degraded.HasBlobs)
	assert.False(t, degraded.HasSnapshots)
}

func TestInspectUnreadableRootFatal(t *testing.T) {
	t.Parallel()

	c, err := New(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	ins, err := NewInspector(c)
	require.NoError(t, err)

	_, err = ins.Inspect(context.Background())
	assert.True(t, IsAccess(err), "want AccessError, got %v", err)
}

func TestInspectFriendlyNamespaces(t *testing.T) {
	t.Parallel()

	c, root := newTestCache(t)
	for _, p := range []string{
		filepath.Join(root, "models", "Zeta", "Model"),
		filepath.Join(root, "models", "Alpha", "Model"),
		filepath.Join(root, "datasets", "Org", "Data"),
	} {
		require.NoError(t, os.MkdirAll(p, 0o755))
	}
	// A stray file at owner level must not show up.
	require.NoError(t, os.WriteFile(filepath.Join(root, "models", "Alpha", "README"), nil, 0o644))

	ins, err := NewInspector(c)
	require.NoError(t, err)
	fp, err := ins.Inspect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Alpha/Model", "Org/Data", "Zeta/Model"}, fp.FriendlyRepoIDs)
}

func TestInspectCanceledContext(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	testutil.PopulatedRepo(t, c.HubDir(), "Owner", "Name", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ins, err := NewInspector(c)
	require.NoError(t, err)
	fp, err := ins.Inspect(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, fp, "partial fingerprint expected on cancellation")
	require.Len(t, fp.HubRepos, 1)
	assert.False(t, fp.HubRepos[0].HasRefs, "unreached repos degrade")
}

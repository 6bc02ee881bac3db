package hubcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/hubcache/internal/testutil"
)

func newTestRepo(t *testing.T) (*Cache, *RepoDir) {
	t.Helper()
	c, _ := newTestCache(t)
	r, err := c.Repo("Owner/Name", KindModel)
	require.NoError(t, err)
	require.NoError(t, r.EnsureDirs())
	return c, r
}

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "dl-*")
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestWriteReadRef(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)

	require.NoError(t, r.WriteRef("main", testutil.CommitA))
	got, err := r.ReadRef("main")
	require.NoError(t, err)
	assert.Equal(t, testutil.CommitA, got)

	got, err = r.ReadRef("missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteRefRejectsBranchName(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)

	assert.ErrorIs(t, r.WriteRef("main", "main"), ErrNotACommit)
	assert.ErrorIs(t, r.WriteRef("main", strings.Repeat("a", 39)), ErrNotACommit)
	assert.ErrorIs(t, r.WriteRef("main", strings.Repeat("A", 40)), ErrNotACommit)
}

func TestStoreFileDeduplicates(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)
	content := []byte("identical bytes")

	res1, err := r.StoreFile(writeTemp(t, content), "a.bin", testutil.CommitA, "")
	require.NoError(t, err)
	res2, err := r.StoreFile(writeTemp(t, content), "b.bin", testutil.CommitA, "")
	require.NoError(t, err)

	assert.Equal(t, res1.Key, res2.Key, "same content, same key")
	assert.Equal(t, DigestKey(content), res1.Key)

	entries, err := os.ReadDir(r.BlobsDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "one blob for two snapshot files")

	// Both snapshot links resolve to the single blob.
	for _, rel := range []string{"a.bin", "b.bin"} {
		got, err := os.ReadFile(r.SnapshotPath(testutil.CommitA, rel))
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}
}

func TestStoreFileCreatesRelativeLinks(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)

	res, err := r.StoreFile(writeTemp(t, []byte("x")), "sub/dir/f.bin", testutil.CommitA, "")
	require.NoError(t, err)

	target, err := os.Readlink(res.SnapshotPath)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(target), "snapshot links must be relative for portability")
	assert.Equal(t, filepath.Join("..", "..", "..", "..", "blobs", res.Key), target)

	friendlyTarget, err := os.Readlink(res.FriendlyPath)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(friendlyTarget))

	// Friendly link lands on the snapshot entry, which lands on the blob.
	got, err := os.ReadFile(res.FriendlyPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestStoreFileWithKnownKey(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)
	content := []byte("lfs payload")
	key := DigestKey(content)

	res, err := r.StoreFile(writeTemp(t, content), "model.bin", testutil.CommitA, key)
	require.NoError(t, err)
	assert.Equal(t, key, res.Key)
	assert.NoError(t, r.VerifyBlob(key))
}

func TestVerifyBlobDetectsCorruption(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)
	key := strings.Repeat("d", 64)
	require.NoError(t, os.WriteFile(r.BlobPath(key), []byte("not what the key says"), 0o644))

	assert.Error(t, r.VerifyBlob(key))
}

func TestCreateSnapshot(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)
	content := []byte("cfg")
	key := DigestKey(content)
	require.NoError(t, os.WriteFile(r.BlobPath(key), content, 0o644))

	err := r.CreateSnapshot(testutil.CommitA, []SnapshotEntry{
		{RelativePath: "config.json", Key: key},
		{RelativePath: "nested/weights.bin", Key: key},
	})
	require.NoError(t, err)

	for _, rel := range []string{"config.json", "nested/weights.bin"} {
		got, err := os.ReadFile(r.SnapshotPath(testutil.CommitA, rel))
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}

	// Refreshing an existing snapshot replaces links instead of failing.
	require.NoError(t, r.CreateSnapshot(testutil.CommitA, []SnapshotEntry{
		{RelativePath: "config.json", Key: key},
	}))
}

func TestListSnapshots(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)
	require.NoError(t, os.MkdirAll(r.SnapshotDir(testutil.CommitA), 0o755))
	require.NoError(t, os.MkdirAll(r.SnapshotDir(testutil.CommitB), 0o755))

	commits, err := r.ListSnapshots()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{testutil.CommitA, testutil.CommitB}, commits)
}

func TestCheckBlobLifecycle(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)
	key := strings.Repeat("c", 64)

	status, _, err := r.CheckBlob(key)
	require.NoError(t, err)
	assert.Equal(t, BlobMissing, status)

	// Claim the slot as this (live) process.
	require.NoError(t, os.WriteFile(r.IncompletePath(key), []byte("partial"), 0o644))
	require.NoError(t, r.WriteIncompleteMeta(key, 1024))

	status, meta, err := r.CheckBlob(key)
	require.NoError(t, err)
	assert.Equal(t, BlobDownloading, status)
	require.NotNil(t, meta)
	assert.Equal(t, os.Getpid(), meta.PID)
	assert.Equal(t, key, meta.Key)

	require.NoError(t, r.FinalizeBlob(key))
	status, _, err = r.CheckBlob(key)
	require.NoError(t, err)
	assert.Equal(t, BlobComplete, status)

	_, err = os.Stat(r.IncompleteMetaPath(key))
	assert.True(t, os.IsNotExist(err), "sidecar removed on finalize")
}

func TestCheckBlobStale(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)
	key := strings.Repeat("b", 64)
	require.NoError(t, os.WriteFile(r.IncompletePath(key), []byte("partial"), 0o644))

	// No sidecar at all: ownership unknown, treated as abandoned.
	status, _, err := r.CheckBlob(key)
	require.NoError(t, err)
	assert.Equal(t, BlobStale, status)

	// Dead writer.
	meta, err := json.Marshal(IncompleteMeta{PID: -1, StartedAt: time.Now(), Key: key})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r.IncompleteMetaPath(key), meta, 0o644))

	status, _, err = r.CheckBlob(key)
	require.NoError(t, err)
	assert.Equal(t, BlobStale, status)
}

func TestCleanupIncomplete(t *testing.T) {
	t.Parallel()

	_, r := newTestRepo(t)
	key := strings.Repeat("a", 64)
	require.NoError(t, os.WriteFile(r.IncompletePath(key), []byte("x"), 0o644))
	require.NoError(t, r.WriteIncompleteMeta(key, 1))

	require.NoError(t, r.CleanupIncomplete(key))
	_, err := os.Stat(r.IncompletePath(key))
	assert.True(t, os.IsNotExist(err))

	// Cleaning an already-clean slot is a no-op.
	require.NoError(t, r.CleanupIncomplete(key))
}

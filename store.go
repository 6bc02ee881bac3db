package hubcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/opencontainers/go-digest"
)

// This file is the write side of the cache: the helpers a fetcher uses to
// materialize blobs, refs, snapshots, and the friendly-alias tree once
// bytes have been obtained. Network transfer itself is the fetcher's
// problem; everything here is local filesystem plumbing.

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// EnsureDirs creates the repository's refs/, blobs/, and snapshots/
// directories.
func (r *RepoDir) EnsureDirs() error {
	for _, dir := range []string{r.RefsDir(), r.BlobsDir(), r.SnapshotsDir()} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteRef records the resolved commit for a ref. The value must be a
// commit hash; branch and tag names are rejected with ErrNotACommit, since
// a mutable pointer in refs/ breaks cache portability.
func (r *RepoDir) WriteRef(ref, commit string) error {
	if !IsCommitHash(commit) {
		return fmt.Errorf("%w: refs/%s = %q", ErrNotACommit, ref, commit)
	}
	refPath := r.RefPath(ref)
	if err := os.MkdirAll(filepath.Dir(refPath), dirPerm); err != nil {
		return fmt.Errorf("create refs directory: %w", err)
	}
	return os.WriteFile(refPath, []byte(commit), filePerm)
}

// ReadRef returns the commit recorded for a ref, or "" when the ref does
// not exist.
func (r *RepoDir) ReadRef(ref string) (string, error) {
	data, err := os.ReadFile(r.RefPath(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ListSnapshots returns the commits that have snapshot directories.
func (r *RepoDir) ListSnapshots() ([]string, error) {
	entries, err := os.ReadDir(r.SnapshotsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var commits []string
	for _, e := range entries {
		if e.IsDir() {
			commits = append(commits, e.Name())
		}
	}
	return commits, nil
}

// SnapshotEntry names one file to link into a snapshot.
type SnapshotEntry struct {
	// RelativePath is the file's slash-separated path within the repo.
	RelativePath string
	// Key is the blob content key the entry links to.
	Key string
}

// CreateSnapshot materializes snapshots/<commit> with relative symlinks
// into blobs/. Existing links are replaced, so refreshing a snapshot after
// new files were fetched is safe.
func (r *RepoDir) CreateSnapshot(commit string, entries []SnapshotEntry) error {
	if err := os.MkdirAll(r.SnapshotDir(commit), dirPerm); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	for _, e := range entries {
		if err := r.linkSnapshotFile(commit, e.RelativePath, e.Key); err != nil {
			return fmt.Errorf("link %s: %w", e.RelativePath, err)
		}
	}
	return nil
}

// linkSnapshotFile creates snapshots/<commit>/<path> -> ../../blobs/<key>,
// with the relative prefix adjusted for nested paths so links stay valid
// when the cache is moved wholesale.
func (r *RepoDir) linkSnapshotFile(commit, relativePath, key string) error {
	linkPath := r.SnapshotPath(commit, relativePath)
	if err := os.MkdirAll(filepath.Dir(linkPath), dirPerm); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	target, err := filepath.Rel(filepath.Dir(linkPath), r.BlobPath(key))
	if err != nil {
		return fmt.Errorf("compute relative target: %w", err)
	}
	return replaceSymlink(target, linkPath)
}

// LinkFriendly creates the friendly-alias symlink for one snapshot file:
// <root>/<kind>/<owner>/<name>/<path> -> the corresponding snapshot entry.
// The alias tree never owns blobs; it only points into snapshots.
func (r *RepoDir) LinkFriendly(commit, relativePath string) error {
	linkPath := filepath.Join(r.FriendlyPath(), filepath.FromSlash(relativePath))
	if err := os.MkdirAll(filepath.Dir(linkPath), dirPerm); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	target, err := filepath.Rel(filepath.Dir(linkPath), r.SnapshotPath(commit, relativePath))
	if err != nil {
		return fmt.Errorf("compute relative target: %w", err)
	}
	return replaceSymlink(target, linkPath)
}

// replaceSymlink atomically-enough swaps in a symlink: remove any existing
// entry at linkPath, then create the link.
func replaceSymlink(target, linkPath string) error {
	if _, err := os.Lstat(linkPath); err == nil {
		if err := os.Remove(linkPath); err != nil {
			return fmt.Errorf("remove existing link: %w", err)
		}
	}
	if err := os.Symlink(target, linkPath); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	return nil
}

// StoreResult describes where StoreFile put everything.
type StoreResult struct {
	BlobPath     string
	SnapshotPath string
	FriendlyPath string
	Key          string
}

// StoreFile moves a fully downloaded file into the cache structure:
// dedupe into blobs/<key>, link it from snapshots/<commit>/, and refresh
// the friendly-alias link. When key is empty the content digest is
// computed, so non-LFS files without a known hash still land under a
// content-derived key. tempFile is consumed.
func (r *RepoDir) StoreFile(tempFile, relativePath, commit, key string) (*StoreResult, error) {
	if key == "" {
		computed, err := hashFile(tempFile)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", tempFile, err)
		}
		key = computed
	}

	blobPath := r.BlobPath(key)
	if _, err := os.Stat(blobPath); err == nil {
		// Blob already present: same content fetched for another
		// revision. Drop the duplicate.
		os.Remove(tempFile)
	} else {
		if err := os.MkdirAll(filepath.Dir(blobPath), dirPerm); err != nil {
			return nil, fmt.Errorf("create blobs directory: %w", err)
		}
		if err := os.Rename(tempFile, blobPath); err != nil {
			// Rename across devices fails; fall back to copy.
			if err := copyFile(tempFile, blobPath); err != nil {
				return nil, fmt.Errorf("store blob: %w", err)
			}
			os.Remove(tempFile)
		}
	}

	if err := r.linkSnapshotFile(commit, relativePath, key); err != nil {
		return nil, err
	}
	if err := r.LinkFriendly(commit, relativePath); err != nil {
		return nil, err
	}

	return &StoreResult{
		BlobPath:     blobPath,
		SnapshotPath: r.SnapshotPath(commit, relativePath),
		FriendlyPath: filepath.Join(r.FriendlyPath(), filepath.FromSlash(relativePath)),
		Key:          key,
	}, nil
}

// copyFile copies src to dst through a temp file in dst's directory so a
// crash never leaves a half-written blob under its final name.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".blob-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// VerifyBlob recomputes the digest of the blob stored under key and fails
// when it differs. Comparison is case-insensitive on the expected side since
// upstream manifests sometimes carry uppercase hex.
func (r *RepoDir) VerifyBlob(key string) error {
	actual, err := hashFile(r.BlobPath(key))
	if err != nil {
		return err
	}
	if actual != strings.ToLower(key) {
		return fmt.Errorf("blob %s: content hash %s does not match key", key, actual)
	}
	return nil
}

// --- Incomplete download tracking ---

// BlobStatus is the state of a blob slot in the cache.
type BlobStatus int

const (
	// BlobMissing means no blob and no download in progress.
	BlobMissing BlobStatus = iota

	// BlobComplete means the blob exists under its final key.
	BlobComplete

	// BlobDownloading means another live process is writing this blob.
	BlobDownloading

	// BlobStale means an incomplete download exists but its writer is dead
	// or idle past the stale timeout; it may be taken over.
	BlobStale
)

func (s BlobStatus) String() string {
	switch s {
	case BlobMissing:
		return "missing"
	case BlobComplete:
		return "complete"
	case BlobDownloading:
		return "downloading"
	case BlobStale:
		return "stale"
	default:
		return "unknown"
	}
}

// IncompleteMeta is the sidecar written next to an .incomplete file so
// concurrent processes can tell an active download from an abandoned one.
type IncompleteMeta struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started"`
	Size      int64     `json:"size"`
	Key       string    `json:"sha256"`
}

// CheckBlob probes the state of the blob slot for key.
func (r *RepoDir) CheckBlob(key string) (BlobStatus, *IncompleteMeta, error) {
	if _, err := os.Stat(r.BlobPath(key)); err == nil {
		return BlobComplete, nil, nil
	}

	incompleteStat, err := os.Stat(r.IncompletePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return BlobMissing, nil, nil
	}
	if err != nil {
		return BlobMissing, nil, fmt.Errorf("stat incomplete file: %w", err)
	}

	meta, err := readIncompleteMeta(r.IncompleteMetaPath(key))
	if err != nil {
		// No readable sidecar means no way to tell who owns the partial
		// file; treat it as abandoned.
		return BlobStale, nil, nil
	}

	if isProcessAlive(meta.PID) &&
		time.Since(incompleteStat.ModTime()) < r.cache.staleTimeout {
		return BlobDownloading, meta, nil
	}
	return BlobStale, meta, nil
}

// WriteIncompleteMeta claims the blob slot for this process.
func (r *RepoDir) WriteIncompleteMeta(key string, size int64) error {
	meta := IncompleteMeta{
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
		Size:      size,
		Key:       key,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.IncompleteMetaPath(key), data, filePerm)
}

// FinalizeBlob promotes a finished .incomplete file to its final key and
// drops the sidecar.
func (r *RepoDir) FinalizeBlob(key string) error {
	if err := os.Rename(r.IncompletePath(key), r.BlobPath(key)); err != nil {
		return fmt.Errorf("finalize blob: %w", err)
	}
	_ = os.Remove(r.IncompleteMetaPath(key))
	return nil
}

// CleanupIncomplete removes the partial file and its sidecar.
func (r *RepoDir) CleanupIncomplete(key string) error {
	var errs []error
	for _, p := range []string{r.IncompletePath(key), r.IncompleteMetaPath(key)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func readIncompleteMeta(path string) (*IncompleteMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta IncompleteMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// isProcessAlive reports whether pid is a live process. Signal 0 probes
// without delivering; on platforms where that is unsupported the probe
// errs, which degrades to treating the writer as dead.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// DigestKey returns the content key for raw data, for fetchers that buffer
// small files in memory before storing them.
func DigestKey(data []byte) string {
	return digest.Canonical.FromBytes(data).Encoded()
}

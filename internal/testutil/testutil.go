// Package testutil builds throwaway cache trees for tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Well-known 40-character commit identifiers for fixtures.
const (
	CommitA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	CommitB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// MkRepo creates a bare repository directory under hubDir and returns its
// path. dirName must already follow the models--owner--name convention;
// tests that want a malformed entry pass whatever they like.
func MkRepo(tb testing.TB, hubDir, dirName string) string {
	tb.Helper()
	dir := filepath.Join(hubDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		tb.Fatal(err)
	}
	return dir
}

// WriteRef writes refs/<ref> = value, creating refs/ as needed. The value
// is written verbatim so tests can plant branch names and other invalid
// content.
func WriteRef(tb testing.TB, repoDir, ref, value string) {
	tb.Helper()
	refPath := filepath.Join(repoDir, "refs", ref)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(refPath, []byte(value), 0o644); err != nil {
		tb.Fatal(err)
	}
}

// WriteBlob stores content under blobs/<key> and returns the blob path.
func WriteBlob(tb testing.TB, repoDir, key string, content []byte) string {
	tb.Helper()
	blobPath := filepath.Join(repoDir, "blobs", key)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(blobPath, content, 0o644); err != nil {
		tb.Fatal(err)
	}
	return blobPath
}

// LinkSnapshot creates snapshots/<commit>/<relPath> as a relative symlink
// to blobs/<key>, the way a conforming fetcher lays links out.
func LinkSnapshot(tb testing.TB, repoDir, commit, relPath, key string) {
	tb.Helper()
	linkPath := filepath.Join(repoDir, "snapshots", commit, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		tb.Fatal(err)
	}
	target, err := filepath.Rel(filepath.Dir(linkPath), filepath.Join(repoDir, "blobs", key))
	if err != nil {
		tb.Fatal(err)
	}
	if err := os.Symlink(target, linkPath); err != nil {
		tb.Fatal(err)
	}
}

// Symlink creates an arbitrary symlink, creating parent directories. Used
// for dangling links, cycles, and friendly-alias entries.
func Symlink(tb testing.TB, target, linkPath string) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.Symlink(target, linkPath); err != nil {
		tb.Fatal(err)
	}
}

// SnapshotFile creates a regular (non-symlink) file inside a snapshot.
func SnapshotFile(tb testing.TB, repoDir, commit, relPath string, content []byte) {
	tb.Helper()
	p := filepath.Join(repoDir, "snapshots", commit, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		tb.Fatal(err)
	}
}

// PopulatedRepo builds a structurally valid model repository: refs/main
// resolved to CommitA, n blobs, and a snapshot linking every blob. Returns
// the repo directory.
func PopulatedRepo(tb testing.TB, hubDir, owner, name string, n int) string {
	tb.Helper()
	repoDir := MkRepo(tb, hubDir, "models--"+owner+"--"+name)
	WriteRef(tb, repoDir, "main", CommitA)
	for i := 0; i < n; i++ {
		key := strings.Repeat(string(rune('0'+i)), 64)
		WriteBlob(tb, repoDir, key, []byte{byte(i)})
		LinkSnapshot(tb, repoDir, CommitA, "file"+string(rune('0'+i))+".bin", key)
	}
	return repoDir
}

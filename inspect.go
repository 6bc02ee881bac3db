package hubcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Inspector walks a cache read-only and produces fingerprints. It holds no
// mutable state between calls; one Inspector may be used from multiple
// goroutines.
type Inspector struct {
	cache       *Cache
	logger      *slog.Logger
	concurrency int
}

// InspectorOption configures an Inspector.
type InspectorOption func(*Inspector) error

// WithLogger sets a logger for the inspector. If nil, a discard logger is
// used (default behavior).
func WithLogger(logger *slog.Logger) InspectorOption {
	return func(ins *Inspector) error {
		if logger != nil {
			ins.logger = logger
		}
		return nil
	}
}

// WithConcurrency bounds how many repository walks run in parallel during a
// cache-wide inspection. Defaults to GOMAXPROCS.
func WithConcurrency(n int) InspectorOption {
	return func(ins *Inspector) error {
		if n < 1 {
			return fmt.Errorf("concurrency must be >= 1")
		}
		ins.concurrency = n
		return nil
	}
}

// NewInspector creates an Inspector for the given cache.
func NewInspector(cache *Cache, opts ...InspectorOption) (*Inspector, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache is nil")
	}
	ins := &Inspector{
		cache:       cache,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		if err := opt(ins); err != nil {
			return nil, err
		}
	}
	return ins, nil
}

// InspectRepo reads one repository directory and returns its fingerprint.
//
// Absent refs/, blobs/, or snapshots/ subdirectories are recorded as
// has_X=false, not errors. Returns ErrNotARepo when the directory's name
// does not follow the naming convention, and an *AccessError when the
// directory or one of its present sections cannot be read.
func InspectRepo(repoDir string) (*RepoFingerprint, error) {
	name := filepath.Base(repoDir)
	if _, _, _, err := ParseRepoDirName(name); err != nil {
		return nil, err
	}
	if _, err := os.Stat(repoDir); err != nil {
		return nil, &AccessError{Path: repoDir, Err: err}
	}

	fp := &RepoFingerprint{Name: name}

	if err := readRefs(repoDir, fp); err != nil {
		return nil, err
	}
	if err := countBlobs(repoDir, fp); err != nil {
		return nil, err
	}
	if err := readSnapshots(repoDir, fp); err != nil {
		return nil, err
	}
	return fp, nil
}

// readRefs loads refs/<name> files as a name -> trimmed-content map.
// Nested ref directories are skipped; the layout keeps refs flat.
func readRefs(repoDir string, fp *RepoFingerprint) error {
	refsDir := filepath.Join(repoDir, "refs")
	entries, err := os.ReadDir(refsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &AccessError{Path: refsDir, Err: err}
	}

	fp.HasRefs = true
	fp.Refs = make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		refPath := filepath.Join(refsDir, e.Name())
		data, err := os.ReadFile(refPath)
		if err != nil {
			return &AccessError{Path: refPath, Err: err}
		}
		fp.Refs[e.Name()] = strings.TrimSpace(string(data))
	}
	return nil
}

// countBlobs counts entries in blobs/. Every non-directory entry counts
// once regardless of size, including in-flight .incomplete files; the
// checker, not the inspector, decides what a count means.
func countBlobs(repoDir string, fp *RepoFingerprint) error {
	blobsDir := filepath.Join(repoDir, "blobs")
	entries, err := os.ReadDir(blobsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &AccessError{Path: blobsDir, Err: err}
	}

	fp.HasBlobs = true
	for _, e := range entries {
		if !e.IsDir() {
			fp.BlobCount++
		}
	}
	return nil
}

// readSnapshots enumerates snapshots/<commit> subtrees. Directory names are
// taken verbatim as commit identifiers. Snapshots are sorted by commit so
// fingerprints are deterministic.
func readSnapshots(repoDir string, fp *RepoFingerprint) error {
	snapsDir := filepath.Join(repoDir, "snapshots")
	entries, err := os.ReadDir(snapsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &AccessError{Path: snapsDir, Err: err}
	}

	fp.HasSnapshots = true
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snap := SnapshotFingerprint{Commit: e.Name()}
		snapDir := filepath.Join(snapsDir, e.Name())
		err := filepath.WalkDir(snapDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return &AccessError{Path: path, Err: err}
			}
			if d.IsDir() {
				return nil
			}
			snap.FileCount++
			if d.Type()&fs.ModeSymlink != 0 {
				snap.SymlinkCount++
			}
			return nil
		})
		if err != nil {
			return err
		}
		fp.Snapshots = append(fp.Snapshots, snap)
	}
	sort.Slice(fp.Snapshots, func(i, j int) bool {
		return fp.Snapshots[i].Commit < fp.Snapshots[j].Commit
	})
	return nil
}

// Inspect walks the entire cache root and aggregates a CacheFingerprint.
//
// Hub entries whose names do not follow the naming convention are skipped.
// A repository that cannot be read is recorded as a degraded all-false
// fingerprint rather than aborting the walk. An unreadable cache root is a
// fatal *AccessError.
//
// Repository walks run in parallel, bounded by WithConcurrency. When ctx is
// canceled mid-walk, Inspect returns the partial fingerprint gathered so
// far together with the context error; repositories that were never reached
// appear as degraded entries.
func (ins *Inspector) Inspect(ctx context.Context) (*CacheFingerprint, error) {
	if _, err := os.Stat(ins.cache.Root()); err != nil {
		return nil, &AccessError{Path: ins.cache.Root(), Err: err}
	}

	names, err := ins.discoverRepos()
	if err != nil {
		return nil, err
	}

	fp := &CacheFingerprint{}
	fps := make([]RepoFingerprint, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ins.concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				fps[i] = RepoFingerprint{Name: name}
				return err
			}
			repoFP, err := InspectRepo(filepath.Join(ins.cache.HubDir(), name))
			if err != nil {
				ins.logger.Warn("repository inspection degraded",
					"repo", name, "error", err)
				fps[i] = RepoFingerprint{Name: name}
				return nil
			}
			fps[i] = *repoFP
			return nil
		})
	}
	walkErr := g.Wait()
	fp.HubRepos = fps

	fp.FriendlyRepoIDs = ins.discoverFriendly()
	return fp, walkErr
}

// discoverRepos lists hub entries that follow the repository naming
// convention, sorted by directory name. Unrelated files and directories in
// the hub namespace are ignored.
func (ins *Inspector) discoverRepos() ([]string, error) {
	entries, err := os.ReadDir(ins.cache.HubDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &AccessError{Path: ins.cache.HubDir(), Err: err}
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, _, _, err := ParseRepoDirName(e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// discoverFriendly enumerates the friendly-alias namespaces exactly two
// levels deep (owner, then name) and records owner/name pairs. The alias
// trees' internal structure is deliberately not descended into here;
// Checker.ResolveSymlinks validates it on demand.
func (ins *Inspector) discoverFriendly() []string {
	seen := make(map[string]struct{})
	for _, kind := range []RepoKind{KindModel, KindDataset} {
		dir := ins.cache.FriendlyDir(kind)
		owners, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				ins.logger.Warn("friendly namespace unreadable", "dir", dir, "error", err)
			}
			continue
		}
		for _, owner := range owners {
			if !owner.IsDir() {
				continue
			}
			ownerDir := filepath.Join(dir, owner.Name())
			repos, err := os.ReadDir(ownerDir)
			if err != nil {
				ins.logger.Warn("friendly owner unreadable", "dir", ownerDir, "error", err)
				continue
			}
			for _, repo := range repos {
				// Follow symlinked name dirs; only existence matters here.
				info, err := os.Stat(filepath.Join(ownerDir, repo.Name()))
				if err != nil || !info.IsDir() {
					continue
				}
				seen[owner.Name()+"/"+repo.Name()] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

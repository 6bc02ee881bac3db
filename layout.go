package hubcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RepoKind distinguishes model repositories from dataset repositories.
type RepoKind string

const (
	KindModel   RepoKind = "model"
	KindDataset RepoKind = "dataset"
)

// hubPrefix returns the directory-name prefix used under hub/ and the
// friendly namespace for this kind.
func (k RepoKind) hubPrefix() string {
	if k == KindDataset {
		return "datasets"
	}
	return "models"
}

// Environment overrides honored by DefaultRoot and New, matching the
// reference downloader ecosystem.
const (
	envCacheHome = "HF_HOME"
	envHubCache  = "HF_HUB_CACHE"
)

// DefaultStaleTimeout is how long an .incomplete file may sit unmodified
// before another process may take over the download.
const DefaultStaleTimeout = 5 * time.Minute

// DefaultRoot returns the default cache root directory.
// Priority: $HF_HOME, then ~/.cache/huggingface.
func DefaultRoot() string {
	if home := os.Getenv(envCacheHome); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cache", "huggingface")
	}
	return filepath.Join(home, ".cache", "huggingface")
}

// Cache describes one cache root. It is a pure path scheme plus the
// write-side helpers on [RepoDir]; constructing a Cache touches nothing on
// disk.
type Cache struct {
	root         string
	hubDir       string
	staleTimeout time.Duration
}

// CacheOption configures a Cache.
type CacheOption func(*Cache) error

// WithHubDir overrides the hub/ namespace location. By default it is
// <root>/hub, or $HF_HUB_CACHE when set.
func WithHubDir(dir string) CacheOption {
	return func(c *Cache) error {
		if dir == "" {
			return fmt.Errorf("hub dir is empty")
		}
		c.hubDir = dir
		return nil
	}
}

// WithStaleTimeout sets the age after which an unmodified incomplete
// download is considered abandoned. Zero keeps DefaultStaleTimeout.
func WithStaleTimeout(d time.Duration) CacheOption {
	return func(c *Cache) error {
		if d < 0 {
			return fmt.Errorf("stale timeout must be >= 0")
		}
		if d > 0 {
			c.staleTimeout = d
		}
		return nil
	}
}

// New creates a Cache rooted at root. If root is empty, DefaultRoot() is
// used.
func New(root string, opts ...CacheOption) (*Cache, error) {
	if root == "" {
		root = DefaultRoot()
	}
	c := &Cache{
		root:         root,
		staleTimeout: DefaultStaleTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.hubDir == "" {
		if hub := os.Getenv(envHubCache); hub != "" {
			c.hubDir = hub
		} else {
			c.hubDir = filepath.Join(root, "hub")
		}
	}
	return c, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// HubDir returns the content-addressable hub/ namespace directory.
func (c *Cache) HubDir() string { return c.hubDir }

// FriendlyDir returns the friendly-alias namespace directory for a kind
// (<root>/models or <root>/datasets).
func (c *Cache) FriendlyDir(kind RepoKind) string {
	return filepath.Join(c.root, kind.hubPrefix())
}

// Repo returns the RepoDir for repoID ("owner/name") and kind.
// Returns ErrMalformedIdentifier when repoID does not contain exactly one
// separating slash or either part is illegal in the naming convention.
func (c *Cache) Repo(repoID string, kind RepoKind) (*RepoDir, error) {
	owner, name, ok := strings.Cut(repoID, "/")
	if !ok || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %q (expected owner/name)", ErrMalformedIdentifier, repoID)
	}
	if err := validateNamePart(owner, true); err != nil {
		return nil, fmt.Errorf("%w: owner %q: %v", ErrMalformedIdentifier, owner, err)
	}
	if err := validateNamePart(name, false); err != nil {
		return nil, fmt.Errorf("%w: name %q: %v", ErrMalformedIdentifier, name, err)
	}
	return &RepoDir{cache: c, kind: kind, owner: owner, name: name}, nil
}

// validateNamePart rejects identifier parts that cannot round-trip through
// the directory naming convention. The owner part additionally must not
// contain the "--" separator, since parsing splits on it.
func validateNamePart(s string, isOwner bool) error {
	switch {
	case s == "":
		return fmt.Errorf("empty")
	case s == "." || s == "..":
		return fmt.Errorf("reserved path element")
	case strings.ContainsAny(s, "/\\\x00"):
		return fmt.Errorf("contains path separator")
	case isOwner && strings.Contains(s, "--"):
		return fmt.Errorf("contains reserved separator")
	}
	return nil
}

// ParseRepoDirName reverses the hub directory naming convention.
// "models--owner--name" yields (KindModel, "owner", "name"). Names with
// embedded "--" stay intact because only the first two separators split.
// Returns ErrNotARepo for anything that does not follow the convention.
func ParseRepoDirName(dirName string) (kind RepoKind, owner, name string, err error) {
	parts := strings.SplitN(dirName, "--", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrNotARepo, dirName)
	}
	switch parts[0] {
	case "models":
		kind = KindModel
	case "datasets":
		kind = KindDataset
	default:
		return "", "", "", fmt.Errorf("%w: %q", ErrNotARepo, dirName)
	}
	return kind, parts[1], parts[2], nil
}

// RepoDir addresses one repository inside a Cache. All path methods are
// pure; the mutating helpers live in store.go.
type RepoDir struct {
	cache *Cache
	kind  RepoKind
	owner string
	name  string
}

// DirName returns the hub directory name, e.g. "models--owner--name".
func (r *RepoDir) DirName() string {
	return r.kind.hubPrefix() + "--" + r.owner + "--" + r.name
}

// Path returns the repository's directory under hub/.
func (r *RepoDir) Path() string {
	return filepath.Join(r.cache.HubDir(), r.DirName())
}

// RefsDir returns the refs/ directory.
func (r *RepoDir) RefsDir() string { return filepath.Join(r.Path(), "refs") }

// BlobsDir returns the blobs/ directory.
func (r *RepoDir) BlobsDir() string { return filepath.Join(r.Path(), "blobs") }

// SnapshotsDir returns the snapshots/ directory.
func (r *RepoDir) SnapshotsDir() string { return filepath.Join(r.Path(), "snapshots") }

// RefPath returns the file holding the resolved commit for ref.
func (r *RepoDir) RefPath(ref string) string { return filepath.Join(r.RefsDir(), ref) }

// BlobPath returns the location of the blob with the given content key.
func (r *RepoDir) BlobPath(key string) string { return filepath.Join(r.BlobsDir(), key) }

// IncompletePath returns the partial-download file for a content key.
func (r *RepoDir) IncompletePath(key string) string {
	return filepath.Join(r.BlobsDir(), key+".incomplete")
}

// IncompleteMetaPath returns the sidecar metadata file for a partial
// download.
func (r *RepoDir) IncompleteMetaPath(key string) string {
	return filepath.Join(r.BlobsDir(), key+".incomplete.meta")
}

// SnapshotDir returns the snapshot directory for a resolved commit.
func (r *RepoDir) SnapshotDir(commit string) string {
	return filepath.Join(r.SnapshotsDir(), commit)
}

// SnapshotPath returns the path of a file within a snapshot.
func (r *RepoDir) SnapshotPath(commit, relativePath string) string {
	return filepath.Join(r.SnapshotDir(commit), filepath.FromSlash(relativePath))
}

// FriendlyPath returns the repository's directory in the friendly-alias
// namespace, e.g. <root>/models/owner/name.
func (r *RepoDir) FriendlyPath() string {
	return filepath.Join(r.cache.FriendlyDir(r.kind), r.owner, r.name)
}

// ID returns the repository identifier in owner/name form.
func (r *RepoDir) ID() string { return r.owner + "/" + r.name }

// Owner returns the repository owner.
func (r *RepoDir) Owner() string { return r.owner }

// Name returns the repository name.
func (r *RepoDir) Name() string { return r.name }

// Kind returns the repository kind.
func (r *RepoDir) Kind() RepoKind { return r.kind }

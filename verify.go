package hubcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Check identifiers, one per structural invariant.
const (
	CheckRefPresent           = "RefPresent"
	CheckRefIsCommit          = "RefIsCommit"
	CheckBlobsNonEmpty        = "BlobsNonEmpty"
	CheckSnapshotsPresent     = "SnapshotsPresent"
	CheckSnapshotUsesSymlinks = "SnapshotUsesSymlinks"
	CheckSymlinkResolves      = "SymlinkResolves"
	CheckBlobContents         = "BlobContents"
)

// Failure reason codes reported in CheckResult.Reason.
const (
	ReasonMissingRef           = "MissingRef"
	ReasonRefIsBranchName      = "RefIsBranchName"
	ReasonEmptyBlobStore       = "EmptyBlobStore"
	ReasonNoSnapshots          = "NoSnapshots"
	ReasonSnapshotNotSymlinked = "SnapshotNotSymlinked"
	ReasonBrokenSymlink        = "BrokenSymlink"
	ReasonBlobCorrupt          = "BlobCorrupt"
)

// DefaultMaxLinkDepth bounds how many symlink hops are followed before a
// chain is declared broken. Guards against cyclic corruption.
const DefaultMaxLinkDepth = 16

var commitHashRE = regexp.MustCompile(`^[0-9a-f]{40,}$`)

// IsCommitHash reports whether s is a resolved commit identifier: lowercase
// hex, at least 40 characters. Branch and tag names fail this.
func IsCommitHash(s string) bool {
	return commitHashRE.MatchString(s)
}

// CheckResult is the outcome of one invariant check. Structural violations
// are values, never errors, so a caller sees every violation in one pass.
type CheckResult struct {
	Check  string `json:"check"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// BrokenLink names a symlink whose target chain does not land on an
// existing file. Target is the link's immediate target as stored.
type BrokenLink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

// BlobMismatch reports a blob whose content no longer matches its content
// key. Only produced by deep verification.
type BlobMismatch struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Checker evaluates fingerprints and live directories against the cache's
// structural invariants. All checks run; nothing short-circuits.
type Checker struct {
	ref          string
	revision     string
	deep         bool
	maxLinkDepth int
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker) error

// WithRef sets the ref name the RefPresent and RefIsCommit checks target.
// Defaults to "main".
func WithRef(name string) CheckerOption {
	return func(c *Checker) error {
		if name == "" {
			return fmt.Errorf("ref name is empty")
		}
		c.ref = name
		return nil
	}
}

// WithRevision restricts snapshot-level checks to one commit. By default
// the first snapshot (lexicographically) is targeted, matching how
// fingerprints are compared across implementations.
func WithRevision(commit string) CheckerOption {
	return func(c *Checker) error {
		c.revision = commit
		return nil
	}
}

// WithDeepVerify enables re-hashing every blob during CheckRepo and
// comparing the result against its content key. Expensive; off by default.
func WithDeepVerify() CheckerOption {
	return func(c *Checker) error {
		c.deep = true
		return nil
	}
}

// WithMaxLinkDepth overrides the symlink chain bound.
func WithMaxLinkDepth(n int) CheckerOption {
	return func(c *Checker) error {
		if n < 1 {
			return fmt.Errorf("max link depth must be >= 1")
		}
		c.maxLinkDepth = n
		return nil
	}
}

// NewChecker creates a Checker.
func NewChecker(opts ...CheckerOption) (*Checker, error) {
	c := &Checker{
		ref:          "main",
		maxLinkDepth: DefaultMaxLinkDepth,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// CheckFingerprint runs every fingerprint-level invariant check and returns
// all results. SymlinkResolves needs a live directory and is not included;
// use ResolveSymlinks or CheckRepo for that.
func (c *Checker) CheckFingerprint(fp *RepoFingerprint) []CheckResult {
	results := make([]CheckResult, 0, 5)

	refVal, refOK := fp.Refs[c.ref]
	results = append(results, CheckResult{
		Check:  CheckRefPresent,
		OK:     fp.HasRefs && refOK,
		Reason: failReason(fp.HasRefs && refOK, ReasonMissingRef),
		Detail: fmt.Sprintf("refs/%s", c.ref),
	})

	isCommit := IsCommitHash(refVal)
	results = append(results, CheckResult{
		Check:  CheckRefIsCommit,
		OK:     isCommit,
		Reason: failReason(isCommit, ReasonRefIsBranchName),
		Detail: fmt.Sprintf("refs/%s = %q", c.ref, refVal),
	})

	blobsOK := fp.HasBlobs && fp.BlobCount > 0
	results = append(results, CheckResult{
		Check:  CheckBlobsNonEmpty,
		OK:     blobsOK,
		Reason: failReason(blobsOK, ReasonEmptyBlobStore),
		Detail: fmt.Sprintf("%d blobs", fp.BlobCount),
	})

	snapsOK := fp.HasSnapshots && len(fp.Snapshots) > 0
	results = append(results, CheckResult{
		Check:  CheckSnapshotsPresent,
		OK:     snapsOK,
		Reason: failReason(snapsOK, ReasonNoSnapshots),
		Detail: fmt.Sprintf("%d snapshots", len(fp.Snapshots)),
	})

	snap, found := c.targetSnapshot(fp)
	linksOK := found && snap.SymlinkCount > 0
	detail := "no snapshot to check"
	if found {
		detail = fmt.Sprintf("snapshots/%s: %d symlinks of %d files",
			snap.Commit, snap.SymlinkCount, snap.FileCount)
	}
	results = append(results, CheckResult{
		Check:  CheckSnapshotUsesSymlinks,
		OK:     linksOK,
		Reason: failReason(linksOK, ReasonSnapshotNotSymlinked),
		Detail: detail,
	})

	return results
}

// targetSnapshot selects the snapshot that snapshot-level checks apply to:
// the configured revision when set, otherwise the first in sorted order.
func (c *Checker) targetSnapshot(fp *RepoFingerprint) (SnapshotFingerprint, bool) {
	if c.revision != "" {
		for _, s := range fp.Snapshots {
			if s.Commit == c.revision {
				return s, true
			}
		}
		return SnapshotFingerprint{}, false
	}
	if len(fp.Snapshots) == 0 {
		return SnapshotFingerprint{}, false
	}
	return fp.Snapshots[0], true
}

// ResolveSymlinks walks dir and returns every symlink whose target chain
// does not land on an existing file. An empty result means the subtree
// passes. Relative targets resolve against the link's directory; chains
// longer than the configured bound count as broken. dir may be a snapshot
// directory or a friendly-alias subtree.
func (c *Checker) ResolveSymlinks(dir string) ([]BrokenLink, error) {
	var broken []BrokenLink
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &AccessError{Path: path, Err: err}
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		target, rerr := os.Readlink(path)
		if rerr != nil {
			target = "?"
		}
		if cerr := c.followChain(path); cerr != nil {
			broken = append(broken, BrokenLink{Path: path, Target: target})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return broken, nil
}

var errLinkChainTooDeep = errors.New("symlink chain exceeds depth bound")

// followChain follows one symlink's target chain. Only the chain reachable
// from link is walked, so cycles elsewhere in the tree cannot wedge it.
func (c *Checker) followChain(link string) error {
	cur := link
	for i := 0; i < c.maxLinkDepth; i++ {
		fi, err := os.Lstat(cur)
		if err != nil {
			return err
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		target, err := os.Readlink(cur)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(cur), target)
		}
		cur = target
	}
	return errLinkChainTooDeep
}

// VerifyBlobContents re-hashes every blob under repoDir whose name is a
// plausible content key and reports the ones whose content hash no longer
// matches. Sidecar .incomplete files and keys in a foreign format are
// skipped: content-key formats are implementation-defined, so only keys
// this implementation can interpret are checked.
func (c *Checker) VerifyBlobContents(repoDir string) ([]BlobMismatch, error) {
	blobsDir := filepath.Join(repoDir, "blobs")
	entries, err := os.ReadDir(blobsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &AccessError{Path: blobsDir, Err: err}
	}

	var mismatches []BlobMismatch
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), ".incomplete") {
			continue
		}
		if !isSHA256Hex(e.Name()) {
			continue
		}
		path := filepath.Join(blobsDir, e.Name())
		actual, err := hashFile(path)
		if err != nil {
			return nil, &AccessError{Path: path, Err: err}
		}
		if actual != e.Name() {
			mismatches = append(mismatches, BlobMismatch{
				Path:     path,
				Expected: e.Name(),
				Actual:   actual,
			})
		}
	}
	return mismatches, nil
}

// isSHA256Hex reports whether s is a 64-character lowercase hex string.
func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// hashFile computes the canonical content digest of a file and returns its
// encoded form (the blob's expected file name).
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	dgst, err := digest.Canonical.FromReader(f)
	if err != nil {
		return "", err
	}
	return dgst.Encoded(), nil
}

// RepoReport aggregates everything CheckRepo found for one repository.
type RepoReport struct {
	Fingerprint    *RepoFingerprint `json:"fingerprint"`
	Results        []CheckResult    `json:"results"`
	BrokenLinks    []BrokenLink     `json:"broken_links,omitempty"`
	BlobMismatches []BlobMismatch   `json:"blob_mismatches,omitempty"`
}

// Passed reports whether every check in the report succeeded.
func (r *RepoReport) Passed() bool {
	for _, res := range r.Results {
		if !res.OK {
			return false
		}
	}
	return true
}

// CheckRepo inspects a live repository directory and runs the full
// invariant suite against it: every fingerprint-level check, symlink
// resolution over the targeted snapshots, and (when enabled) deep blob
// verification.
//
// The caller asked for this exact path, so ErrNotARepo and access failures
// are fatal here, unlike during cache-wide scans.
func (c *Checker) CheckRepo(repoDir string) (*RepoReport, error) {
	fp, err := InspectRepo(repoDir)
	if err != nil {
		return nil, err
	}

	report := &RepoReport{
		Fingerprint: fp,
		Results:     c.CheckFingerprint(fp),
	}

	for _, snap := range c.snapshotsToWalk(fp) {
		broken, err := c.ResolveSymlinks(filepath.Join(repoDir, "snapshots", snap))
		if err != nil {
			return nil, err
		}
		report.BrokenLinks = append(report.BrokenLinks, broken...)
	}
	report.Results = append(report.Results, CheckResult{
		Check:  CheckSymlinkResolves,
		OK:     len(report.BrokenLinks) == 0,
		Reason: failReason(len(report.BrokenLinks) == 0, ReasonBrokenSymlink),
		Detail: brokenLinkDetail(report.BrokenLinks),
	})

	if c.deep {
		mismatches, err := c.VerifyBlobContents(repoDir)
		if err != nil {
			return nil, err
		}
		report.BlobMismatches = mismatches
		report.Results = append(report.Results, CheckResult{
			Check:  CheckBlobContents,
			OK:     len(mismatches) == 0,
			Reason: failReason(len(mismatches) == 0, ReasonBlobCorrupt),
			Detail: fmt.Sprintf("%d corrupt blobs", len(mismatches)),
		})
	}

	return report, nil
}

// snapshotsToWalk returns the commits whose trees CheckRepo resolves
// symlinks in: just the configured revision when set, otherwise all.
func (c *Checker) snapshotsToWalk(fp *RepoFingerprint) []string {
	if c.revision != "" {
		for _, s := range fp.Snapshots {
			if s.Commit == c.revision {
				return []string{c.revision}
			}
		}
		return nil
	}
	commits := make([]string, 0, len(fp.Snapshots))
	for _, s := range fp.Snapshots {
		commits = append(commits, s.Commit)
	}
	return commits
}

func failReason(ok bool, reason string) string {
	if ok {
		return ""
	}
	return reason
}

func brokenLinkDetail(links []BrokenLink) string {
	if len(links) == 0 {
		return "all symlinks resolve"
	}
	first := links[0]
	if len(links) == 1 {
		return fmt.Sprintf("%s -> %s", first.Path, first.Target)
	}
	return fmt.Sprintf("%s -> %s (and %d more)", first.Path, first.Target, len(links)-1)
}

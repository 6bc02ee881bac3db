package hubcache

import (
	"fmt"
	"strings"
)

// MatchKind records how a repository fingerprint was paired with the match
// key. Substring pairing is a documented weak point: prefer passing a
// canonical owner/name identifier so the exact path is taken.
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchSubstring MatchKind = "substring"
	MatchNone      MatchKind = "none"
)

// Dimension is one compared aspect of two fingerprints.
type Dimension struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// ComparisonReport itemizes the structural comparison of two cache
// fingerprints. It is never collapsed to a single boolean; callers need the
// per-dimension breakdown to localize a regression.
type ComparisonReport struct {
	MatchKey string `json:"match_key"`

	RepoA      string    `json:"repo_a,omitempty"`
	RepoB      string    `json:"repo_b,omitempty"`
	MatchKindA MatchKind `json:"match_kind_a"`
	MatchKindB MatchKind `json:"match_kind_b"`

	Dimensions []Dimension `json:"dimensions"`
}

// Passed reports whether every compared dimension matched.
func (r *ComparisonReport) Passed() bool {
	for _, d := range r.Dimensions {
		if !d.OK {
			return false
		}
	}
	return true
}

// Compare pairs one repository from each fingerprint by matchKey and
// reports structural equivalence dimension by dimension.
//
// Compared dimensions: presence of refs, blobs, and snapshots
// (boolean-for-boolean), ref-format validity on both sides, and symlink
// usage in each side's first snapshot. Literal ref values, blob counts, and
// content keys are deliberately not compared: two implementations
// legitimately differ there while producing interchangeable caches.
//
// The boolean-equality dimensions are symmetric: Compare(a, b, k) and
// Compare(b, a, k) fail and pass the same set.
func Compare(a, b *CacheFingerprint, matchKey string) *ComparisonReport {
	report := &ComparisonReport{MatchKey: matchKey}

	repoA, kindA := findRepo(a, matchKey)
	repoB, kindB := findRepo(b, matchKey)
	report.MatchKindA = kindA
	report.MatchKindB = kindB

	if repoA != nil {
		report.RepoA = repoA.Name
	}
	if repoB != nil {
		report.RepoB = repoB.Name
	}
	if repoA == nil || repoB == nil {
		report.Dimensions = append(report.Dimensions, Dimension{
			Name:   "repo_present",
			OK:     false,
			Detail: fmt.Sprintf("matched A=%v B=%v for key %q", repoA != nil, repoB != nil, matchKey),
		})
		return report
	}

	report.Dimensions = append(report.Dimensions,
		boolDimension("has_refs", repoA.HasRefs, repoB.HasRefs),
		boolDimension("has_blobs", repoA.HasBlobs, repoB.HasBlobs),
		boolDimension("has_snapshots", repoA.HasSnapshots, repoB.HasSnapshots),
		refFormatDimension(repoA, repoB),
		symlinkDimension(repoA, repoB),
	)
	return report
}

// findRepo locates the fingerprint for matchKey: first an exact match on
// the recovered owner/name identifier or the directory name, then a
// case-insensitive substring fallback over directory names.
func findRepo(fp *CacheFingerprint, matchKey string) (*RepoFingerprint, MatchKind) {
	for i := range fp.HubRepos {
		r := &fp.HubRepos[i]
		if r.Name == matchKey || r.ID() == matchKey {
			return r, MatchExact
		}
	}
	lower := strings.ToLower(matchKey)
	for i := range fp.HubRepos {
		r := &fp.HubRepos[i]
		if strings.Contains(strings.ToLower(r.Name), lower) {
			return r, MatchSubstring
		}
	}
	return nil, MatchNone
}

func boolDimension(name string, a, b bool) Dimension {
	return Dimension{
		Name:   name,
		OK:     a == b,
		Detail: fmt.Sprintf("A=%v B=%v", a, b),
	}
}

// refFormatDimension requires both sides' main ref to be a resolved commit
// hash. Format validity is compared instead of literal equality: the two
// sides only resolve to the same commit when fetched against the same
// revision pin, which the comparator cannot assume.
func refFormatDimension(a, b *RepoFingerprint) Dimension {
	okA := IsCommitHash(a.Ref("main"))
	okB := IsCommitHash(b.Ref("main"))
	return Dimension{
		Name:   "ref_is_commit",
		OK:     okA && okB,
		Detail: fmt.Sprintf("A=%v B=%v", okA, okB),
	}
}

// symlinkDimension compares whether each side's first snapshot links into
// the blob store.
func symlinkDimension(a, b *RepoFingerprint) Dimension {
	usesA := firstSnapshotUsesSymlinks(a)
	usesB := firstSnapshotUsesSymlinks(b)
	return Dimension{
		Name:   "snapshot_uses_symlinks",
		OK:     usesA == usesB,
		Detail: fmt.Sprintf("A=%v B=%v", usesA, usesB),
	}
}

func firstSnapshotUsesSymlinks(fp *RepoFingerprint) bool {
	if len(fp.Snapshots) == 0 {
		return false
	}
	return fp.Snapshots[0].SymlinkCount > 0
}

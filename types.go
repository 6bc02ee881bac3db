package hubcache

// SnapshotFingerprint summarizes one snapshot subtree.
//
// FileCount counts regular files and symlinks; SymlinkCount counts only
// symlinks. Directories are structure, not content, and are not counted.
type SnapshotFingerprint struct {
	Commit       string `json:"commit"`
	FileCount    int    `json:"file_count"`
	SymlinkCount int    `json:"symlink_count"`
}

// RepoFingerprint is an immutable structural summary of one repository
// directory at a point in time. Absent optional sections are recorded as
// false, never as errors. Snapshots and ref keys are sorted so that two
// inspections of an unchanged repository produce identical fingerprints.
type RepoFingerprint struct {
	// Name is the hub directory name, e.g. "models--owner--name".
	Name string `json:"name"`

	HasRefs bool              `json:"has_refs"`
	Refs    map[string]string `json:"refs,omitempty"`

	HasBlobs  bool `json:"has_blobs"`
	BlobCount int  `json:"blob_count"`

	HasSnapshots bool                  `json:"has_snapshots"`
	Snapshots    []SnapshotFingerprint `json:"snapshots,omitempty"`
}

// Ref returns the stored value for a ref name, or "" when absent.
func (fp *RepoFingerprint) Ref(name string) string {
	return fp.Refs[name]
}

// ID returns the owner/name identifier recovered from the directory name,
// or "" when the name does not follow the convention (degraded entries keep
// whatever name the directory had).
func (fp *RepoFingerprint) ID() string {
	if _, owner, name, err := ParseRepoDirName(fp.Name); err == nil {
		return owner + "/" + name
	}
	return ""
}

// CacheFingerprint aggregates one read of an entire cache root.
type CacheFingerprint struct {
	// HubRepos holds one fingerprint per discovered hub repository,
	// sorted by directory name.
	HubRepos []RepoFingerprint `json:"hub_repos"`

	// FriendlyRepoIDs lists owner/name pairs present in the friendly-alias
	// namespaces, sorted and de-duplicated. Only existence is recorded;
	// the alias trees' contents are validated on demand by the Checker.
	FriendlyRepoIDs []string `json:"friendly_repo_ids"`
}

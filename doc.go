// Package hubcache models the on-disk layout of a hub-style model/dataset
// cache and verifies its structural invariants.
//
// A cache root holds a content-addressable hub/ namespace with one directory
// per repository (models--owner--name or datasets--owner--name), each
// containing refs/, blobs/, and snapshots/, plus an optional human-friendly
// alias tree (models/owner/name, datasets/owner/name) made of symlinks into
// snapshots. Two independent downloader implementations that follow this
// layout produce interchangeable caches; this package provides the tools to
// check that they actually do.
//
// The package is split along read/write lines:
//   - [Cache] and [RepoDir] are the pure path scheme plus the write-side
//     materialization helpers a fetcher uses (blob storage, refs, snapshot
//     and friendly-view symlinks).
//   - [Inspector] walks a cache read-only and produces immutable
//     [CacheFingerprint] / [RepoFingerprint] value summaries.
//   - [Checker] evaluates a fingerprint or a live directory against the
//     structural invariants (commit-hash refs, symlinked snapshots,
//     resolvable links) and reports every violation in one pass.
//   - [Compare] diffs two fingerprints from different implementations and
//     produces an itemized report rather than a single verdict.
//
// # Quick Start
//
// Verify a populated cache:
//
//	c, err := hubcache.New(root)
//	if err != nil {
//	    return err
//	}
//	ins, _ := hubcache.NewInspector(c)
//	fp, err := ins.Inspect(ctx)
//	if err != nil {
//	    return err
//	}
//	chk, _ := hubcache.NewChecker()
//	for _, repo := range fp.HubRepos {
//	    for _, res := range chk.CheckFingerprint(&repo) {
//	        if !res.OK {
//	            fmt.Println(repo.Name, res.Check, res.Reason)
//	        }
//	    }
//	}
//
// Inspection never mutates the cache. Callers must not inspect a repository
// while a download into it is still in flight; the inspectors tolerate
// partial trees but make no attempt to synchronize with concurrent writers.
package hubcache

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meigma/hubcache"
)

func newVerifyCmd(ro *RootOpts) *cobra.Command {
	var (
		kind     string
		revision string
		refName  string
		deep     bool
	)

	cmd := &cobra.Command{
		Use:   "verify [owner/name]",
		Short: "Check a cache (or one repository) against the structural invariants",
		Long: `Verify checks that every discovered repository has a commit-resolved
refs/main, a non-empty blob store, symlinked snapshots, and no broken
symlinks, including in the friendly-alias tree. All violations are printed;
the command exits non-zero if any check failed.

Examples:
  hubcheck verify                              # whole cache
  hubcheck verify TheOrg/Some-Model            # one repository
  hubcheck verify TheOrg/Some-Data --kind dataset --deep`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := hubcache.New(ro.CacheRoot)
			if err != nil {
				return err
			}

			var checkerOpts []hubcache.CheckerOption
			if refName != "" {
				checkerOpts = append(checkerOpts, hubcache.WithRef(refName))
			}
			if revision != "" {
				checkerOpts = append(checkerOpts, hubcache.WithRevision(revision))
			}
			if deep {
				checkerOpts = append(checkerOpts, hubcache.WithDeepVerify())
			}
			checker, err := hubcache.NewChecker(checkerOpts...)
			if err != nil {
				return err
			}

			v := &verifier{
				ro:      ro,
				cache:   cache,
				checker: checker,
				out:     cmd.ErrOrStderr(),
			}
			var failures int
			if len(args) == 1 {
				failures, err = v.verifyOne(args[0], hubcache.RepoKind(kind))
			} else {
				failures, err = v.verifyAll(cmd)
			}
			if err != nil {
				return err
			}
			if failures > 0 {
				return fmt.Errorf("%d invariant violation(s)", failures)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "model", "repository kind (model|dataset)")
	cmd.Flags().StringVar(&revision, "revision", "", "restrict snapshot checks to one commit")
	cmd.Flags().StringVar(&refName, "ref", "", "ref name to check (default: main)")
	cmd.Flags().BoolVar(&deep, "deep", false, "re-hash every blob against its content key")
	return cmd
}

type verifier struct {
	ro      *RootOpts
	cache   *hubcache.Cache
	checker *hubcache.Checker
	out     io.Writer
}

// verifyOne checks a single explicitly named repository; here naming and
// access problems are fatal rather than skipped.
func (v *verifier) verifyOne(repoID string, kind hubcache.RepoKind) (int, error) {
	repo, err := v.cache.Repo(repoID, kind)
	if err != nil {
		return 0, err
	}
	report, err := v.checker.CheckRepo(repo.Path())
	if err != nil {
		return 0, err
	}
	failures := v.printReport(repo.DirName(), report)
	failures += v.checkFriendly(repo.DirName(), repo.FriendlyPath())
	return failures, nil
}

func (v *verifier) verifyAll(cmd *cobra.Command) (int, error) {
	ins, err := hubcache.NewInspector(v.cache)
	if err != nil {
		return 0, err
	}
	fp, err := ins.Inspect(cmd.Context())
	if err != nil {
		return 0, err
	}

	var failures int
	for i := range fp.HubRepos {
		name := fp.HubRepos[i].Name
		report, err := v.checker.CheckRepo(filepath.Join(v.cache.HubDir(), name))
		if err != nil {
			// Degraded repo: report it as a failure with context and move
			// on; partial corruption must not hide the rest of the cache.
			fmt.Fprintf(v.out, "FAIL %s: unreadable: %v\n", name, err)
			failures++
			continue
		}
		failures += v.printReport(name, report)
	}

	for _, id := range fp.FriendlyRepoIDs {
		for _, kind := range []hubcache.RepoKind{hubcache.KindModel, hubcache.KindDataset} {
			dir := filepath.Join(v.cache.FriendlyDir(kind), filepath.FromSlash(id))
			if _, err := os.Stat(dir); err != nil {
				continue
			}
			failures += v.checkFriendly(id, dir)
		}
	}
	return failures, nil
}

// checkFriendly resolves symlinks in one friendly-alias subtree. A missing
// tree is fine; the alias namespace is optional.
func (v *verifier) checkFriendly(label, dir string) int {
	if _, err := os.Stat(dir); err != nil {
		return 0
	}
	broken, err := v.checker.ResolveSymlinks(dir)
	if err != nil {
		fmt.Fprintf(v.out, "FAIL %s: friendly tree unreadable: %v\n", label, err)
		return 1
	}
	for _, b := range broken {
		fmt.Fprintf(v.out, "FAIL %s: BrokenSymlink %s -> %s\n", label, b.Path, b.Target)
	}
	return len(broken)
}

func (v *verifier) printReport(name string, report *hubcache.RepoReport) int {
	var failures int
	for _, res := range report.Results {
		if res.OK {
			continue
		}
		failures++
		fmt.Fprintf(v.out, "FAIL %s: %s (%s) %s\n", name, res.Check, res.Reason, res.Detail)
		v.ro.Logger.WithField("repo", name).
			WithField("check", res.Check).
			WithField("reason", res.Reason).
			Warn("invariant violation")
	}
	for _, b := range report.BrokenLinks {
		fmt.Fprintf(v.out, "  broken: %s -> %s\n", b.Path, b.Target)
	}
	for _, m := range report.BlobMismatches {
		fmt.Fprintf(v.out, "  corrupt: %s (content hashes to %s)\n", m.Path, m.Actual)
	}
	return failures
}

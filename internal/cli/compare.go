package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/hubcache"
)

func newCompareCmd(ro *RootOpts) *cobra.Command {
	var matchKey string

	cmd := &cobra.Command{
		Use:   "compare <fingerprint-a> <fingerprint-b>",
		Short: "Compare two cache fingerprints for structural equivalence",
		Long: `Compare pairs one repository from each fingerprint file and reports the
structural dimensions one by one: section presence, ref format validity,
and snapshot symlink usage. Blob counts and literal commit hashes are not
compared; two correct implementations legitimately differ there.

Pass a canonical owner/name as --match whenever possible. When the exact
match fails, a case-insensitive substring fallback is used and flagged in
the output, since it can mis-pair ambiguous names.

Example:
  hubcheck compare reference.json ours.json.zst --match TheOrg/Some-Model`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fpA, err := hubcache.ReadFingerprintFile(args[0])
			if err != nil {
				return err
			}
			fpB, err := hubcache.ReadFingerprintFile(args[1])
			if err != nil {
				return err
			}

			report := hubcache.Compare(fpA, fpB, matchKey)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "A: %s (%s match)\n", report.RepoA, report.MatchKindA)
			fmt.Fprintf(out, "B: %s (%s match)\n", report.RepoB, report.MatchKindB)
			for _, d := range report.Dimensions {
				status := "ok  "
				if !d.OK {
					status = "FAIL"
				}
				fmt.Fprintf(out, "%s %-24s %s\n", status, d.Name, d.Detail)
			}

			if !report.Passed() {
				return fmt.Errorf("fingerprints diverge for %q", matchKey)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&matchKey, "match", "", "repository to compare (owner/name)")
	_ = cmd.MarkFlagRequired("match")
	return cmd
}

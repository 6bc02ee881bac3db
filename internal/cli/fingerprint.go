package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/meigma/hubcache"
)

func newFingerprintCmd(ro *RootOpts) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Capture a structural fingerprint of the cache",
		Long: `Fingerprint walks the cache and emits its structural summary: every hub
repository's refs, blob count, and per-snapshot file/symlink counts, plus
the friendly-alias entries. The output is stable for an unchanged cache, so
fingerprints taken from two implementations can be compared offline.

Examples:
  hubcheck fingerprint                        # JSON to stdout
  hubcheck fingerprint -o mine.json
  hubcheck fingerprint -o mine.json.zst       # zstd-compressed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := hubcache.New(ro.CacheRoot)
			if err != nil {
				return err
			}
			ins, err := hubcache.NewInspector(cache)
			if err != nil {
				return err
			}
			fp, err := ins.Inspect(cmd.Context())
			if err != nil {
				return err
			}
			ro.Logger.WithField("repos", len(fp.HubRepos)).Debug("cache inspected")

			if output != "" {
				return hubcache.WriteFingerprintFile(output, fp)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(fp)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file (.zst compresses)")
	return cmd
}

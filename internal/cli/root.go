// Package cli implements the hubcheck command tree.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/hubcache/internal/logging"
)

// RootOpts carries settings shared by every subcommand, resolved from
// flags, environment, and an optional config file in that priority order.
type RootOpts struct {
	CacheRoot string
	LogLevel  string
	LogFile   string

	Logger *logrus.Logger
}

// Execute runs the hubcheck CLI and returns the terminal error, if any.
// The caller decides the exit code.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	ro := &RootOpts{}
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "hubcheck",
		Short: "Verify and compare hub-style model/dataset caches",
		Long: `hubcheck inspects a hub-style cache directory (hub/models--owner--name
with refs/, blobs/, and snapshots/), checks its structural invariants, and
compares fingerprints taken from different downloader implementations.

A verification run reports every violation, not just the first, and exits
non-zero when any check fails.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ro.setup(cmd, cfgFile)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ~/.config/hubcheck/hubcheck.yaml)")
	pf.String("cache-root", "", "cache root (default: $HF_HOME or ~/.cache/huggingface)")
	pf.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	pf.String("log-file", "", "log to a rotating file instead of stderr")

	cmd.AddCommand(
		newVerifyCmd(ro),
		newFingerprintCmd(ro),
		newCompareCmd(ro),
	)
	return cmd
}

// setup resolves RootOpts through viper so that flags, HUBCHECK_* env
// vars, and the config file all feed the same keys.
func (ro *RootOpts) setup(cmd *cobra.Command, cfgFile string) error {
	v := viper.New()
	v.SetEnvPrefix("HUBCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, key := range []string{"cache-root", "log-level", "log-file"} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return err
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("hubcheck")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "hubcheck"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}

	ro.CacheRoot = v.GetString("cache-root")
	ro.LogLevel = v.GetString("log-level")
	ro.LogFile = v.GetString("log-file")

	logger, err := logging.New(logging.Options{
		Level:      ro.LogLevel,
		File:       ro.LogFile,
		MaxSizeMB:  50,
		MaxBackups: 3,
	})
	if err != nil {
		// Logging setup problems degrade to stderr; they never block a
		// verification run.
		fmt.Fprintf(cmd.ErrOrStderr(), "logging fallback: %v\n", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	ro.Logger = logger
	return nil
}

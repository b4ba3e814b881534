// Package cmd implements mottoctl's command surface: load/validate a
// configuration, run a sequence against a dialed transport, convert a
// legacy flat configuration, and inspect a running Orchestrator's status.
// Flags follow defaults -> environment -> explicit flag precedence, the
// way the teacher's own CLI examples in the pack layer cobra over env
// vars rather than a separate config-file format.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Homiakus/motto/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	flagConfigPath string
	flagDialAddr   string
	flagProfile    string
	flagLogFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "mottoctl",
	Short:         "Load, validate, and drive a motto orchestration configuration",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", envOr("MOTTO_CONFIG", ""), "path to a TOML configuration document")
	rootCmd.PersistentFlags().StringVar(&flagDialAddr, "dial", envOr("MOTTO_DIAL_ADDR", ""), "TCP address of the device transport (host:port)")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", envOr("MOTTO_PROFILE", ""), "profile id to activate for this run")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", envOr("MOTTO_LOG_FORMAT", ""), "log output format override (json|console)")
}

// envOr returns the named environment variable, or def if unset.
func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func newLogger() logging.ComponentAwareLogger {
	if flagLogFormat != "" {
		os.Setenv("MOTTO_ENV", map[string]string{"console": "dev", "json": "prod"}[flagLogFormat])
	}
	return logging.New()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

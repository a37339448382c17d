// Package commands implements the tabrmd CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "tabrmd",
	Short: "tabrmd - TPM 2.0 access broker daemon",
	Long: `tabrmd serializes concurrent client access to a single TPM 2.0 transport:
it owns the transport exclusively, performs startup and capability probes once,
and passes through command/response buffers under a single mutex.

This build exposes a TCP listener in place of the project's D-Bus surface;
it carries no authorization policy or per-client handle virtualization.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/tabrmd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

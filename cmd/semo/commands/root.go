// Package commands implements the semo command line.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "semo",
	Short: "semo - supervised HTTP service runtime",
	Long: `semo starts an HTTP service whose components are resolved from a registry,
started in priority tiers and stopped in reverse order on SIGINT, SIGQUIT,
SIGTERM, a fault or a shutdown control message.

Configuration is read from the --config file, the environment and a .env file
outside production. Use "semo [command] --help" for more information.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); environment variables override it")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	configpkg "github.com/asafsemo/semo/internal/runtime/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and print the effective configuration",
	Long: `Load the configuration the same way serve does, validate it, and print the
result with URL credentials redacted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := configpkg.Load(cfgFile)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
		return err
	},
}

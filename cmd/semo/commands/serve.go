package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/asafsemo/semo/internal/runtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the service",
	Long: `Start the HTTP server, the telemetry exporter and the control bus, and block
until a shutdown is requested.

The process exits with 0 after a clean shutdown, 1 when startup fails, 6 when
the shutdown watchdog fires and 10 after a fault.

Examples:
  # Start with defaults and environment overrides
  HTTP_SERVER_PORT=9090 semo serve

  # Start with a config file
  semo serve --config /etc/semo/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	app, err := runtime.Bootstrap(cmd.Context(), runtime.AppOptions{
		ConfigPath: cfgFile,
		Version:    Version,
		// Run returns the exit code once the coordinator decided it.
		ExitFunc: func(int) {},
	})
	if err != nil {
		return err
	}
	os.Exit(app.Run(cmd.Context()))
	return nil
}

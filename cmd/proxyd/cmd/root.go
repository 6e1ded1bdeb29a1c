package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/dispatch-proxy/internal/config"
)

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "proxyd",
	Short: "Registry-gated dispatch proxy server",
	Long: `proxyd runs the dispatch proxy: it executes batches of registered handler
calls atomically against its ledger account and exposes them over an HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./proxyd.yaml or /etc/proxyd/proxyd.yaml)")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
}

// loadConfig reads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = version
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

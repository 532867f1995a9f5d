package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string

	serviceCfg *ServiceConfig
)

var rootCmd = &cobra.Command{
	Use:   "trustgate",
	Short: "Progressive trust and policy gating for AI agents",
	Long: "Gates agent actions behind per-tenant trust levels that are earned\n" +
		"through verified outcomes. Every decision is appended to a per-tenant\n" +
		"hash-chained audit ledger.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadServiceConfig(flagConfig)
		if err != nil {
			return err
		}
		serviceCfg = cfg
		return configureLogger(cfg, flagLogLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default ~/.trustgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log level (debug|info|warn|error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

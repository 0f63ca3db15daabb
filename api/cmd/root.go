package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"appcore/api/config"
	"appcore/api/logger"
)

var log = logger.NewLogger("appcore.server")

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "appcore",
	Short: "Multi-tenant application control plane",
	Long: `appcore deploys and operates workspace applications on Kubernetes:
stateless and stateful services, scheduled jobs with backups, and functions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Apply(logger.Config{Level: c.LogLevel, JSON: c.LogJSON})
		cfg = c
		return nil
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("APPCORE_CONFIG"), "config file (yaml, json or toml)")
}

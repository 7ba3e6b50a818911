// Package main provides the hookrelay server executable: HTTP API, delivery
// worker pool and schema migrations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coregx/hookrelay/cmd/hookrelay-server/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hookrelay-server",
	Short: "Webhook event relay",
	Long: `hookrelay-server accepts application events, fans them out to matching
webhook subscriptions and delivers them with retries and a dead-letter queue.

Configuration is read from config.yaml, a local .env file and HOOKRELAY_*
environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/hookrelay/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

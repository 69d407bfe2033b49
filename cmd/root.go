// Package cmd provides the command-line interface of udpbench.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "udpbench",
	Short: "UDP throughput and round-trip benchmark.",
	Long: `udpbench measures UDP throughput and round-trip times between a ` +
		`client and an echo server. The server can impair its responses ` +
		`with loss, jitter, delay, duplication or reordering.`,
	SilenceUsage: true,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides the config file)")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// configPath returns the --config value, or "" when the flag was left at its
// default and that file does not exist.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if cmd.Flags().Changed("config") {
		return path
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func pickLevel(fromConfig string) string {
	if logLevel != "" {
		return logLevel
	}
	return fromConfig
}

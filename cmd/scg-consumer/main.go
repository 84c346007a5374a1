package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scg-consumer",
		Short: "Topic-routed message consumer",
		Long: `scg-consumer subscribes to message topics and routes every message to the
responders bound to that topic. Routes, per-topic settings and the transport are read
from a YAML or TOML config file.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "consumer.yaml", "Path to the config file (.yaml, .yml or .toml)")

	rootCmd.AddCommand(newConsumeCommand())
	rootCmd.AddCommand(newProduceCommand())

	return rootCmd
}

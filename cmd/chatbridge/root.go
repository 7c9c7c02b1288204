package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatbridge",
	Short: "chatbridge runs one bot API over incompatible chat platforms",
	Long: `chatbridge is a bot runtime that exposes a single messaging API over
chat platforms with incompatible addressing models (Slack, Discord,
Telegram, Feishu). Adapters normalize messages and events into one model
and resolve message references through a per-platform context cache.`,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

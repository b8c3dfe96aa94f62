package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jarvis-chat",
	Short: "Terminal client for the jarvis chat backend",
	Long: `jarvis-chat talks to a running jarvis server. Replies stream in as they
are generated; /stop or Ctrl-C interrupts a reply and keeps what arrived.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().String("token", "", "bearer token (default is client.token from the config)")
}

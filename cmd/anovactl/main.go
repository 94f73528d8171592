// Anovactl talks to an Anova precision cooker from the command line, either
// through the local Bluetooth adapter or through a relay.
//
// Usage:
//
//	anovactl [command] [flags]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	relayURL   string
	jsonOutput bool
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anovactl",
	Short: "Control an Anova precision cooker",
	Long: `A command line client for Anova precision cookers.

Commands reach the cooker over the local Bluetooth adapter, or through a
relay when --relay is set or transport.mode is "relay" in the config file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (defaults to ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", "", "Relay base URL, forces relay mode")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol exchanges to stderr")
}

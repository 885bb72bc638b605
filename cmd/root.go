/*
Copyright © 2025 Siphon Contributors

Siphon is a CLI tool for extracting imaging studies from a remote storage node.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "siphon",
	Short: "Siphon - imaging study extraction service",
	Long: `Siphon watches a remote imaging storage node and extracts every study
exactly once into a local directory tree.

Discovery polls the node's REST API; transfers use the node's native
move protocol, so instances arrive on Siphon's own receiving endpoint
and land under:

  <output-root>/<patient-id>/<study-uid>/<series-uid>/<sop-uid>.dcm

A durable ledger records completed studies. Restarts and crashes never
re-fetch a ledgered study and never lose a partially transferred one:
unfinished studies are simply pulled again, and instance writes are
idempotent.

Example:
  siphon watch
  siphon pull 1.2.840.113619.2.1.1
  siphon ledger list

For more information, visit: https://github.com/trobanga/siphon`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./siphon.yaml, ~/.config/siphon/siphon.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	// Add version template
	rootCmd.SetVersionTemplate("Siphon version {{.Version}}\n")
}

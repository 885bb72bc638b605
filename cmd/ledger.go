package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/services"
)

// ledgerCmd represents the ledger command group
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the processed-study ledger",
	Long: `Inspect and maintain the ledger of completed study extractions.

The ledger is what makes extraction exactly-once: a study recorded there
is never pulled again by watch, across any number of restarts.

Available subcommands:
  list   - List all completed studies
  forget - Remove one study so watch extracts it again`,
}

// ledgerListCmd represents the ledger list command
var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all completed studies",
	Long: `List every study recorded in the ledger.

Shows:
  - Store identifier and study UID
  - Patient ID
  - Instance count
  - Completion time

Example:
  siphon ledger list`,
	Args: cobra.NoArgs,
	RunE: runLedgerList,
}

// ledgerForgetCmd represents the ledger forget command
var ledgerForgetCmd = &cobra.Command{
	Use:   "forget <study-id>",
	Short: "Remove one study from the ledger",
	Long: `Remove a study from the ledger so the next watch cycle extracts it
again.

The files already on disk are left alone; the re-extraction overwrites
them in place. Use the store identifier shown by 'siphon ledger list'.

Forgetting needs the output lock, so it refuses to run while a watch or
pull holds the same output tree.

Example:
  siphon ledger forget 4b7c09a2-55e21747-cf82cbc0-3b6b8a41-6c25772b`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerForget,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerForgetCmd)
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	// Load configuration
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ledger, err := services.OpenLedger(config.Output.ResolvedLedgerPath(), lib.DefaultLogger)
	if err != nil {
		return fmt.Errorf("cannot open ledger: %w", err)
	}

	entries := ledger.Entries()
	if len(entries) == 0 {
		fmt.Println("No completed studies")
		return nil
	}

	// Print table header
	fmt.Printf("%-38s %-30s %-16s %-10s %s\n", "STUDY ID", "STUDY UID", "PATIENT", "INSTANCES", "COMPLETED")
	fmt.Println("--------------------------------------------------------------------------------------------------------------")

	for _, e := range entries {
		fmt.Printf("%-38s %-30s %-16s %-10d %s (%s ago)\n",
			e.StudyID,
			e.StudyUID,
			e.PatientID,
			e.Instances,
			e.CompletedAt.Format("2006-01-02 15:04:05"),
			formatDuration(time.Since(e.CompletedAt)),
		)
	}

	fmt.Printf("\nTotal: %d studies (%s)\n", len(entries), ledger.Path())

	return nil
}

func runLedgerForget(cmd *cobra.Command, args []string) error {
	studyID := args[0]

	// Load configuration
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create logger
	logLevel := lib.LogLevelInfo
	if verbose {
		logLevel = lib.LogLevelDebug
	}
	logger := lib.NewLogger(logLevel)

	// Rewriting the ledger must not race a running watch on the same tree
	err = services.WithOutputLock(config.Output.Root, logger, func() error {
		ledger, err := services.OpenLedger(config.Output.ResolvedLedgerPath(), logger)
		if err != nil {
			return fmt.Errorf("cannot open ledger: %w", err)
		}

		if err := ledger.Forget(studyID); err != nil {
			return err
		}

		fmt.Printf("✓ Forgot study %s; the next watch cycle will extract it again\n", studyID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot forget study: %w", err)
	}

	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}

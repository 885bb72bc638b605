package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trobanga/siphon/internal/dimse"
	"github.com/trobanga/siphon/internal/extractor"
	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/models"
	"github.com/trobanga/siphon/internal/services"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the remote node and extract new studies",
	Long: `Continuously watch the remote storage node and extract every study
exactly once.

The watch loop polls the node's study list, pulls each unprocessed study
through the move protocol, and records completed studies in the ledger.
Studies already in the ledger are never pulled again, across any number
of restarts.

Failure handling is per study: a failed transfer leaves no ledger entry,
so the study is retried on a later poll cycle. A remote that goes down
pauses discovery until it comes back. Press Ctrl-C to stop; in-flight
transfers are abandoned cleanly and re-pulled on the next start.

Examples:
  # Watch with configuration from ./siphon.yaml
  siphon watch

  # Watch with an explicit config file
  siphon watch --config /etc/siphon/siphon.yaml`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	// Validate the output tree before touching the remote
	if err := models.ValidateOutputRoot(config.Output.Root); err != nil {
		return fmt.Errorf("output root check failed: %w", err)
	}

	// A down remote is not fatal: discovery resumes once it is back
	if err := config.ValidateRemoteConnectivity(); err != nil {
		logger.Warn("Remote node not reachable yet, discovery will keep retrying", "error", err)
	} else {
		fmt.Printf("✓ Remote node reachable at %s\n", config.Remote.APIURL)
	}

	// One watcher per output tree
	lock, err := services.AcquireOutputLock(config.Output.Root, logger)
	if err != nil {
		return fmt.Errorf("cannot start watch: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("Failed to release output lock", "error", err)
		}
	}()

	// Ledger corruption is fatal: silently re-pulling everything or
	// silently skipping studies are both worse than stopping
	ledger, err := services.OpenLedger(config.Output.ResolvedLedgerPath(), logger)
	if err != nil {
		return fmt.Errorf("cannot open ledger: %w", err)
	}
	fmt.Printf("✓ Ledger loaded: %d completed studies (%s)\n", ledger.Len(), ledger.Path())

	writer := services.NewWriter(config.Output.Root, logger)
	receiver := services.NewReceiver(config.Receiver.AETitle, writer, logger)
	if err := receiver.Start(config.Receiver.BindAddr); err != nil {
		return fmt.Errorf("failed to start receiving endpoint: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := receiver.Shutdown(shutdownCtx); err != nil {
			logger.Error("Receiver shutdown failed", "error", err)
		}
	}()
	fmt.Printf("✓ Receiving endpoint %s listening on %s\n", config.Receiver.AETitle, receiver.Addr())

	moveAddr, err := receiver.MoveAddr(config.Receiver.MoveAddr)
	if err != nil {
		return fmt.Errorf("cannot determine move destination: %w", err)
	}
	destination := dimse.FormatDestination(config.Receiver.AETitle, moveAddr)

	httpClient := services.NewHTTPClient(30*time.Second, config.Retry, logger)
	store := services.NewStoreClient(config.Remote.APIURL, httpClient, logger)
	mover := dimse.NewMoveSCU(config.Remote.DIMSEAddr, config.Remote.AETitle, config.Receiver.AETitle, logger)

	ext := extractor.New(store, mover, receiver, ledger, extractor.Config{
		Destination:        destination,
		PollInterval:       config.Extraction.PollInterval(),
		GracePeriod:        config.Extraction.GracePeriod(),
		MaxConcurrentPulls: config.Extraction.MaxConcurrentPulls,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\nWatching %s every %s (Ctrl-C to stop)\n\n",
		config.Remote.APIURL, config.Extraction.PollInterval())

	if err := ext.Run(ctx); err != nil {
		return fmt.Errorf("extraction loop failed: %w", err)
	}

	fmt.Printf("\n✓ Stopped. %d instances received this run, %d studies in ledger\n",
		receiver.TotalReceived(), ledger.Len())

	return nil
}

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
	"github.com/trobanga/siphon/internal/ui"
)

var (
	pullOutput string
	noProgress bool
)

// pullCmd represents the pull command
var pullCmd = &cobra.Command{
	Use:   "pull [study-uid ...]",
	Short: "Pull studies once, without the watch loop",
	Long: `Pull studies from the remote node into the output tree, one shot.

With study UIDs as arguments, exactly those studies are pulled. Without
arguments, every study the remote node knows is pulled.

Unlike watch, pull does not consult or update the ledger: it fetches
what you ask for, every time. Instance writes are idempotent, so pulling
a study that is already on disk simply rewrites the same files.

Examples:
  # Pull two specific studies
  siphon pull 1.2.840.113619.2.1.1 1.2.840.113619.2.1.2

  # Pull everything the remote knows into a separate tree
  siphon pull --output /data/full-export

  # Pull without progress bars (for scripts and logs)
  siphon pull --no-progress`,
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().StringVar(&pullOutput, "output", "", "output root (overrides configuration)")
	pullCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress indicators")
}

func runPull(cmd *cobra.Command, args []string) error {
	// Load configuration
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if pullOutput != "" {
		config.Output.Root = pullOutput
	}

	// Create logger
	logLevel := lib.LogLevelInfo
	if verbose {
		logLevel = lib.LogLevelDebug
	}
	logger := lib.NewLogger(logLevel)

	// Requested UIDs must be syntactically valid before anything starts
	for _, uid := range args {
		if err := lib.ValidateUID(uid); err != nil {
			return fmt.Errorf("invalid study uid %q: %w", uid, err)
		}
	}

	if err := models.ValidateOutputRoot(config.Output.Root); err != nil {
		return fmt.Errorf("output root check failed: %w", err)
	}

	// Same exclusivity rule as watch: one process per output tree
	lock, err := services.AcquireOutputLock(config.Output.Root, logger)
	if err != nil {
		return fmt.Errorf("cannot start pull: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("Failed to release output lock", "error", err)
		}
	}()

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

	moveAddr, err := receiver.MoveAddr(config.Receiver.MoveAddr)
	if err != nil {
		return fmt.Errorf("cannot determine move destination: %w", err)
	}
	destination := dimse.FormatDestination(config.Receiver.AETitle, moveAddr)
	mover := dimse.NewMoveSCU(config.Remote.DIMSEAddr, config.Remote.AETitle, config.Receiver.AETitle, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resolve the work list: explicit UIDs, or everything the remote knows
	studyUIDs := args
	if len(studyUIDs) == 0 {
		studyUIDs, err = listAllStudyUIDs(ctx, config, logger)
		if err != nil {
			return err
		}
	}

	if len(studyUIDs) == 0 {
		fmt.Println("No studies found on the remote node")
		return nil
	}

	fmt.Printf("Pulling %d study(ies) into %s\n\n", len(studyUIDs), config.Output.Root)

	startTime := time.Now()
	failed := 0
	for i, studyUID := range studyUIDs {
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted after %d of %d studies", i, len(studyUIDs))
		}

		received, err := pullOneStudy(ctx, mover, receiver, studyUID, destination, config.Extraction.GracePeriod())
		if err != nil {
			failed++
			fmt.Printf("  ✗ %s: %v\n", studyUID, err)
			continue
		}
		fmt.Printf("  ✓ %s (%d instances)\n", studyUID, received)
	}

	fmt.Printf("\n%d instances received in %v\n",
		receiver.TotalReceived(), time.Since(startTime).Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d of %d studies failed", failed, len(studyUIDs))
	}
	return nil
}

// listAllStudyUIDs resolves every study on the remote node to its study UID
func listAllStudyUIDs(ctx context.Context, config *models.ProjectConfig, logger *lib.Logger) ([]string, error) {
	httpClient := services.NewHTTPClient(30*time.Second, config.Retry, logger)
	store := services.NewStoreClient(config.Remote.APIURL, httpClient, logger)

	spinner := ui.NewSpinner("Listing studies on remote node")
	if !noProgress {
		spinner.Start()
	}

	studyIDs, err := store.ListStudies(ctx)
	if err != nil {
		if spinner.IsActive() {
			spinner.Stop(false)
		}
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}

	uids := make([]string, 0, len(studyIDs))
	for _, studyID := range studyIDs {
		study, err := store.GetStudy(ctx, studyID)
		if err != nil {
			if spinner.IsActive() {
				spinner.Stop(false)
			}
			return nil, fmt.Errorf("failed to resolve study %s: %w", studyID, err)
		}
		uids = append(uids, study.StudyUID)
	}

	if spinner.IsActive() {
		spinner.Stop(true)
	}

	return uids, nil
}

// pullOneStudy moves a single study to the local endpoint and waits for
// its arrivals to settle. Returns the number of instances received.
func pullOneStudy(ctx context.Context, mover *dimse.MoveSCU, receiver *services.Receiver, studyUID, destination string, grace time.Duration) (int, error) {
	defer receiver.Release(studyUID)

	var bar *ui.TransferBar
	if !noProgress {
		// Total stays indeterminate until the first pending response
		// reveals the remote's sub-operation counts
		bar = ui.NewTransferBar(-1, studyUID)
		defer func() {
			_ = bar.Finish()
		}()
	}

	onProgress := func(p dimse.MoveProgress) {
		if bar == nil {
			return
		}
		total := p.Remaining + p.Completed + p.Failed + p.Warnings
		if total > 0 && int64(total) != bar.GetTotal() {
			bar.SetTotal(int64(total))
		}
		_ = bar.Set(int64(receiver.Progress(studyUID).Received))
	}

	result, err := mover.MoveStudy(ctx, studyUID, destination, onProgress)
	if err != nil {
		return receiver.Progress(studyUID).Received, err
	}
	if dimse.IsFailure(result.Status) {
		return receiver.Progress(studyUID).Received, lib.ErrTransferRejected(studyUID, dimse.StatusText(result.Status))
	}
	if result.Failed > 0 {
		return receiver.Progress(studyUID).Received, lib.ErrTransferIncomplete(studyUID, result.Failed)
	}

	// Stragglers may still be in flight after the final response
	progress, err := extractor.AwaitQuiescence(ctx, receiver, studyUID, result.Completed, grace)
	if bar != nil {
		_ = bar.Set(int64(progress.Received))
	}
	if err != nil {
		return progress.Received, err
	}

	return progress.Received, nil
}

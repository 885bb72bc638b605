package extractor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trobanga/siphon/internal/dimse"
	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/models"
	"github.com/trobanga/siphon/internal/services"
)

// Quiescence tuning relative to the configured grace period. A study in
// completion_pending is sampled every grace/sampleDivisor and given
// grace*budgetFactor in total to settle before it is declared stuck.
const (
	quiescenceBudgetFactor  = 5
	quiescenceSampleDivisor = 10
	minQuiescenceSample     = 10 * time.Millisecond
)

// StudyLister enumerates studies on the remote node and resolves their identity
type StudyLister interface {
	ListStudies(ctx context.Context) ([]string, error)
	GetStudy(ctx context.Context, studyID string) (models.StudyRef, error)
}

// StudyMover asks the remote node to push one study toward a destination
type StudyMover interface {
	MoveStudy(ctx context.Context, studyUID string, destination string, onProgress func(dimse.MoveProgress)) (*dimse.MoveResult, error)
}

// ArrivalTracker reports per-study arrival counts observed by the local
// receiving endpoint. Release frees a study's counters once its outcome
// is settled.
type ArrivalTracker interface {
	Progress(studyUID string) services.StudyProgress
	Release(studyUID string)
}

// Config carries the orchestrator's tuning knobs
type Config struct {
	// Destination is the move target in "AETITLE@host:port" form, i.e. where
	// the remote node should push instances
	Destination        string
	PollInterval       time.Duration
	GracePeriod        time.Duration
	MaxConcurrentPulls int
}

// Extractor discovers studies on a remote node and pulls each one exactly
// once into the local output tree. Discovery polls the remote's REST API;
// transfers go through the move protocol toward the local receiving
// endpoint; the ledger records completed studies so restarts never pull
// them again.
type Extractor struct {
	lister      StudyLister
	mover       StudyMover
	tracker     ArrivalTracker
	ledger      *services.Ledger
	logger      *lib.Logger
	destination string

	pollInterval time.Duration
	grace        time.Duration

	// sem bounds concurrent pulls; each extraction task holds one slot
	// for its whole lifetime
	sem chan struct{}

	// mu guards inFlight: studies that have a task goroutine but no
	// ledger entry yet. A study is never in both the ledger and this set
	// except for the instant between MarkComplete and task teardown.
	mu       sync.Mutex
	inFlight map[string]struct{}

	wg sync.WaitGroup
}

// New creates an extractor wired to a remote node, a local receiving
// endpoint, and a ledger
func New(lister StudyLister, mover StudyMover, tracker ArrivalTracker, ledger *services.Ledger, cfg Config, logger *lib.Logger) *Extractor {
	return &Extractor{
		lister:       lister,
		mover:        mover,
		tracker:      tracker,
		ledger:       ledger,
		logger:       logger,
		destination:  cfg.Destination,
		pollInterval: cfg.PollInterval,
		grace:        cfg.GracePeriod,
		sem:          make(chan struct{}, cfg.MaxConcurrentPulls),
		inFlight:     make(map[string]struct{}),
	}
}

// Run polls the remote node until ctx is cancelled, starting an extraction
// task for every study that is neither ledgered nor already in flight.
// Discovery errors are logged and retried on the next cycle; a flapping
// remote never stops the loop. On cancellation Run stops polling, waits
// for in-flight tasks to observe the cancellation and exit, and returns.
func (e *Extractor) Run(ctx context.Context) error {
	e.logger.Info("Extraction loop started",
		"poll_interval", e.pollInterval,
		"grace_period", e.grace,
		"max_concurrent_pulls", cap(e.sem),
		"destination", e.destination)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := e.PollOnce(ctx); err != nil && ctx.Err() == nil {
			// Containment: discovery failure affects this cycle only
			e.logger.Warn("Discovery poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			e.logger.Info("Shutdown requested, waiting for in-flight extractions", "in_flight", e.InFlightCount())
			e.wg.Wait()
			e.logger.Info("Extraction loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce performs a single discovery pass and returns the number of
// extraction tasks it started
func (e *Extractor) PollOnce(ctx context.Context) (int, error) {
	studyIDs, err := e.lister.ListStudies(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, studyID := range studyIDs {
		// Ledger first: completed studies are skipped forever
		if e.ledger.Contains(studyID) {
			continue
		}

		// In-flight second: a study already being pulled is not pulled again
		if !e.markInFlight(studyID) {
			continue
		}

		e.wg.Add(1)
		go e.extractStudy(ctx, studyID)
		started++
	}

	return started, nil
}

// InFlightCount returns the number of studies currently being extracted
func (e *Extractor) InFlightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlight)
}

// markInFlight reserves a study for extraction
// Returns false if the study is already in flight
func (e *Extractor) markInFlight(studyID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.inFlight[studyID]; exists {
		return false
	}

	e.inFlight[studyID] = struct{}{}
	return true
}

// clearInFlight releases a study's reservation after its outcome is settled
func (e *Extractor) clearInFlight(studyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, studyID)
}

// extractStudy drives one study through the extraction state machine.
// It runs on its own goroutine with an in-flight reservation held; errors
// are contained here and never propagate to the poll loop. A failed study
// stays out of the ledger, so a later poll cycle discovers and retries it.
func (e *Extractor) extractStudy(ctx context.Context, studyID string) {
	defer e.wg.Done()
	defer e.clearInFlight(studyID)

	// Wait for a pull slot; additionally discovered studies queue here
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return
	}

	study, err := e.lister.GetStudy(ctx, studyID)
	if err != nil {
		e.logger.Warn("Failed to resolve study details, will retry on a later cycle",
			"study_id", studyID,
			"error", err)
		return
	}

	task := models.NewExtractionTask(study)
	lib.LogStudyDiscovered(e.logger, study.ID, study.StudyUID)

	// The receiver may hold counters for this study after we are done
	// (stragglers, failed runs); free them once the outcome is settled
	defer e.tracker.Release(study.StudyUID)

	task, err = lib.AdvanceTask(task, models.StatePullRequested)
	if err != nil {
		e.failTask(task, err)
		return
	}
	lib.LogPullRequested(e.logger, study.ID, study.StudyUID, e.destination)

	result, task, err := e.runMove(ctx, task)
	if err != nil {
		e.failTask(task, err)
		return
	}

	if dimse.IsFailure(result.Status) {
		e.failTask(task, lib.ErrTransferRejected(study.StudyUID, dimse.StatusText(result.Status)))
		return
	}
	if result.Failed > 0 {
		e.failTask(task, lib.ErrTransferIncomplete(study.StudyUID, result.Failed))
		return
	}

	task, err = lib.AdvanceTask(task, models.StateCompletionPending)
	if err != nil {
		e.failTask(task, err)
		return
	}

	progress, err := e.awaitQuiescence(ctx, study.StudyUID, result.Completed)
	task = models.UpdateTaskProgress(task, progress.Received, progress.Failures)
	if err != nil {
		e.failTask(task, err)
		return
	}

	// Durable before visible: the ledger entry lands on disk before the
	// in-flight reservation is dropped, so no poll cycle can see the
	// study as new in between
	entry := models.LedgerEntry{
		StudyID:     study.ID,
		StudyUID:    study.StudyUID,
		PatientID:   study.PatientID,
		Instances:   progress.Received,
		CompletedAt: time.Now(),
	}
	if err := e.ledger.MarkComplete(entry); err != nil {
		e.failTask(task, err)
		return
	}

	task, err = lib.AdvanceTask(task, models.StateCompleted)
	if err != nil {
		// The ledger entry is already durable; this indicates a state
		// machine bug, not a lost study
		e.logger.Error("Completed study ended in inconsistent state",
			"study_id", study.ID,
			"state", task.State,
			"error", err)
		return
	}

	lib.LogStudyCompleted(e.logger, study.ID, progress.Received, time.Since(task.StartedAt))
}

// runMove issues the move request and tracks arrivals while it is pending.
// The task enters receiving on the first pending response from the remote.
func (e *Extractor) runMove(ctx context.Context, task models.ExtractionTask) (*dimse.MoveResult, models.ExtractionTask, error) {
	studyUID := task.Study.StudyUID

	onProgress := func(p dimse.MoveProgress) {
		if task.State == models.StatePullRequested {
			advanced, err := lib.AdvanceTask(task, models.StateReceiving)
			if err == nil {
				task = advanced
			}
		}

		arrivals := e.tracker.Progress(studyUID)
		task = models.UpdateTaskProgress(task, arrivals.Received, arrivals.Failures)

		e.logger.Debug("Transfer progress",
			"study_uid", studyUID,
			"remaining", p.Remaining,
			"completed", p.Completed,
			"failed", p.Failed,
			"received_locally", arrivals.Received)
	}

	result, err := e.mover.MoveStudy(ctx, studyUID, e.destination, onProgress)
	if err != nil {
		return nil, task, err
	}

	return result, task, nil
}

// awaitQuiescence waits for the local arrival stream of one study to settle
func (e *Extractor) awaitQuiescence(ctx context.Context, studyUID string, expected int) (services.StudyProgress, error) {
	return AwaitQuiescence(ctx, e.tracker, studyUID, expected, e.grace)
}

// AwaitQuiescence waits for the local arrival stream of one study to settle.
// The remote's final move response races with its store associations, so
// completion is declared only after a full grace period with no arrivals,
// with everything the remote claims to have sent accounted for, and with
// no write failures. A study that never settles within the budget fails
// and is re-pulled on a later cycle.
func AwaitQuiescence(ctx context.Context, tracker ArrivalTracker, studyUID string, expected int, grace time.Duration) (services.StudyProgress, error) {
	sample := grace / quiescenceSampleDivisor
	if sample < minQuiescenceSample {
		sample = minQuiescenceSample
	}
	deadline := time.Now().Add(grace * quiescenceBudgetFactor)

	for {
		progress := tracker.Progress(studyUID)

		if progress.Failures > 0 {
			return progress, lib.WrapError(lib.CategoryWriteIO,
				fmt.Sprintf("%d instance writes failed for study %s", progress.Failures, studyUID),
				nil,
				"Check free disk space and output directory permissions",
				"The study will be re-pulled once the cause is fixed")
		}

		settled := progress.Received > 0 &&
			progress.Received >= expected &&
			time.Since(progress.LastArrival) >= grace
		if settled {
			return progress, nil
		}

		if time.Now().After(deadline) {
			return progress, lib.ErrTransferTimeout(studyUID,
				fmt.Sprintf("received %d of %d expected instances before the settle budget expired",
					progress.Received, expected))
		}

		select {
		case <-ctx.Done():
			return progress, ctx.Err()
		case <-time.After(sample):
		}
	}
}

// failTask records a study's failure. The study stays out of the ledger
// and will be rediscovered on a later poll cycle.
func (e *Extractor) failTask(task models.ExtractionTask, cause error) {
	task = models.FailTask(task, cause.Error())

	retryable := true
	if siphonErr := lib.ClassifyError(cause); siphonErr != nil {
		retryable = siphonErr.IsRetryable
	}

	lib.LogStudyFailed(e.logger, task.Study.ID, cause, retryable)
}

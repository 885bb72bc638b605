package services

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/trobanga/siphon/internal/dimse"
	"github.com/trobanga/siphon/internal/lib"
	"github.com/trobanga/siphon/internal/models"
)

// StudyProgress is a snapshot of what the receiver has seen for one study
type StudyProgress struct {
	Received    int       // instances durably written
	Failures    int       // instances that arrived but could not be written
	LastArrival time.Time // zero until the first instance lands
}

// Receiver is the local endpoint the remote node pushes instances to
// during a pull. Every accepted instance goes through the writer; the
// per-study arrival counters feed the orchestrator's completion check.
//
// Arrivals for the same study are serialized on that study's own lock,
// so parallel delivery of unrelated studies never contends.
type Receiver struct {
	writer *Writer
	logger *lib.Logger
	scp    *dimse.SCP

	mu      sync.Mutex
	studies map[string]*studyState
}

type studyState struct {
	mu          sync.Mutex
	received    int
	failures    int
	lastArrival time.Time
}

// NewReceiver creates a receiving endpoint that commits instances through
// the given writer. Start must be called before any pull names it as a
// destination.
func NewReceiver(aeTitle string, writer *Writer, logger *lib.Logger) *Receiver {
	r := &Receiver{
		writer:  writer,
		logger:  logger,
		studies: make(map[string]*studyState),
	}
	r.scp = dimse.NewSCP(aeTitle, r.handleInstance, nil, logger)
	return r
}

// Start binds the listener. Binding port 0 picks a free port; Addr
// reports the actual one.
func (r *Receiver) Start(bindAddr string) error {
	return r.scp.Start(bindAddr)
}

// Addr returns the bound listen address
func (r *Receiver) Addr() string {
	return r.scp.Addr()
}

// MoveAddr resolves the address the remote node should push instances to.
// The configured value wins when set; otherwise loopback plus the actual
// bound port is assumed, which only holds when remote and receiver share
// a host.
func (r *Receiver) MoveAddr(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	_, port, err := net.SplitHostPort(r.Addr())
	if err != nil {
		return "", fmt.Errorf("cannot derive move address from %q: %w", r.Addr(), err)
	}
	return net.JoinHostPort("127.0.0.1", port), nil
}

// Shutdown stops accepting new associations and waits for open ones
func (r *Receiver) Shutdown(ctx context.Context) error {
	return r.scp.Shutdown(ctx)
}

// Progress returns the current counters for a study, zero-valued when the
// study is unknown
func (r *Receiver) Progress(studyUID string) StudyProgress {
	r.mu.Lock()
	state, ok := r.studies[studyUID]
	r.mu.Unlock()
	if !ok {
		return StudyProgress{}
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return StudyProgress{
		Received:    state.received,
		Failures:    state.failures,
		LastArrival: state.lastArrival,
	}
}

// Release drops the in-memory counters for a study once its extraction
// task has finished with it. A straggler arriving afterwards is still
// written; it just starts fresh counters.
func (r *Receiver) Release(studyUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.studies, studyUID)
}

// TotalReceived sums the received counters across all tracked studies
func (r *Receiver) TotalReceived() int {
	r.mu.Lock()
	states := make([]*studyState, 0, len(r.studies))
	for _, state := range r.studies {
		states = append(states, state)
	}
	r.mu.Unlock()

	total := 0
	for _, state := range states {
		state.mu.Lock()
		total += state.received
		state.mu.Unlock()
	}
	return total
}

// handleInstance is the store handler: commit the instance, then account
// for it under its study. A write failure is reported back to the sender
// and counted so the owning study cannot be marked complete.
func (r *Receiver) handleInstance(inst models.Instance) error {
	state := r.studyState(inst.StudyUID)

	state.mu.Lock()
	defer state.mu.Unlock()

	if _, err := r.writer.Write(inst); err != nil {
		state.failures++
		r.logger.Error("Instance write failed",
			"study_uid", inst.StudyUID,
			"sop_uid", inst.SOPUID,
			"error", err,
		)
		return err
	}

	state.received++
	state.lastArrival = time.Now()
	return nil
}

func (r *Receiver) studyState(studyUID string) *studyState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.studies[studyUID]
	if !ok {
		state = &studyState{}
		r.studies[studyUID] = state
	}
	return state
}

package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// TransferBar wraps the progressbar library to visualize one study
// transfer with instance counts, ETA, and throughput.
//
// A move transfer does not announce its size up front: the instance
// count only becomes known from the remote's first pending response.
// The bar therefore starts in indeterminate mode and switches to a
// bounded bar via SetTotal once the count is known.
type TransferBar struct {
	bar       *progressbar.ProgressBar
	total     int64
	current   int64
	startTime time.Time
}

// NewTransferBar creates a progress bar for one study transfer.
// Pass total <= 0 when the instance count is not yet known.
// Updates every 500ms to provide timely feedback without flooding
// the terminal.
func NewTransferBar(total int64, description string) *TransferBar {
	return newTransferBar(total, description, os.Stderr)
}

// NewTransferBarWithWriter creates a transfer bar that writes to a
// specific writer. Useful for testing with mock writers.
func NewTransferBarWithWriter(total int64, description string, writer io.Writer) *TransferBar {
	return newTransferBar(total, description, writer)
}

func newTransferBar(total int64, description string, writer io.Writer) *TransferBar {
	if total <= 0 {
		total = -1 // indeterminate until the remote reports its count
	}

	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(500*time.Millisecond),
		progressbar.OptionShowIts(), // instances per second
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false), // plain output for log capture
	)

	return &TransferBar{
		bar:       bar,
		total:     total,
		current:   0,
		startTime: time.Now(),
	}
}

// SetTotal revises the expected instance count once the remote reports it
func (p *TransferBar) SetTotal(total int64) {
	p.total = total
	p.bar.ChangeMax64(total)
}

// GetTotal returns the expected instance count, -1 while still unknown
func (p *TransferBar) GetTotal() int64 {
	return p.total
}

// Add increments the bar by the given number of received instances
func (p *TransferBar) Add(amount int64) error {
	p.current += amount
	return p.bar.Add64(amount)
}

// Set moves the bar to an absolute received-instance count
func (p *TransferBar) Set(value int64) error {
	p.current = value
	return p.bar.Set64(value)
}

// Finish completes the bar
func (p *TransferBar) Finish() error {
	return p.bar.Finish()
}

// Clear removes the bar from the terminal
func (p *TransferBar) Clear() error {
	return p.bar.Clear()
}

// GetPercentage returns current completion percentage (0-100)
func (p *TransferBar) GetPercentage() float64 {
	if p.total <= 0 {
		return 0
	}
	return (float64(p.current) / float64(p.total)) * 100
}

// GetElapsedTime returns time elapsed since the transfer bar was created
func (p *TransferBar) GetElapsedTime() time.Duration {
	return time.Since(p.startTime)
}

// Spinner provides visual feedback for operations with unknown duration,
// such as waiting for an association or for stragglers to settle
type Spinner struct {
	description string
	startTime   time.Time
	active      bool
}

// NewSpinner creates a spinner for unknown-duration operations
func NewSpinner(description string) *Spinner {
	return &Spinner{
		description: description,
		startTime:   time.Now(),
		active:      false,
	}
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	s.active = true
	s.startTime = time.Now()
	fmt.Printf("%s...\n", s.description)
}

// Stop ends the spinner animation
func (s *Spinner) Stop(success bool) {
	s.active = false
	elapsed := time.Since(s.startTime)

	if success {
		fmt.Printf("✓ %s (completed in %v)\n", s.description, elapsed.Round(time.Millisecond))
	} else {
		fmt.Printf("✗ %s (failed after %v)\n", s.description, elapsed.Round(time.Millisecond))
	}
}

// UpdateMessage updates the spinner's description while it's running
func (s *Spinner) UpdateMessage(message string) {
	s.description = message
	if s.active {
		fmt.Printf("\r%s... (%v elapsed)", message, time.Since(s.startTime).Round(time.Second))
	}
}

// IsActive returns whether the spinner is currently running
func (s *Spinner) IsActive() bool {
	return s.active
}

package models

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// ProjectConfig is the top-level configuration for the siphon extraction service
type ProjectConfig struct {
	Remote     RemoteConfig     `yaml:"remote" json:"remote"`
	Receiver   ReceiverConfig   `yaml:"receiver" json:"receiver"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
}

// RemoteConfig contains connection details for the remote storage node
type RemoteConfig struct {
	APIURL    string `yaml:"api_url" json:"api_url"`       // REST endpoint, e.g. http://orthanc2:8042
	DIMSEAddr string `yaml:"dimse_addr" json:"dimse_addr"` // transfer endpoint, e.g. orthanc2:4242
	AETitle   string `yaml:"ae_title" json:"ae_title"`     // called AE title of the storage node
}

// ReceiverConfig contains settings for the local receiving endpoint
type ReceiverConfig struct {
	BindAddr string `yaml:"bind_addr" json:"bind_addr"` // listen address, e.g. :11112
	// MoveAddr is the address the remote is told to push instances to. It must
	// be reachable from the storage node, not from this process, so it cannot
	// be derived from BindAddr in general. Defaults to 127.0.0.1 plus the bind
	// port when empty.
	MoveAddr string `yaml:"move_addr" json:"move_addr"`
	AETitle  string `yaml:"ae_title" json:"ae_title"`
}

// OutputConfig controls where extracted studies land on disk
type OutputConfig struct {
	Root       string `yaml:"root" json:"root"`
	LedgerPath string `yaml:"ledger_path" json:"ledger_path"` // default: <root>/.processed_studies.json
}

// ExtractionConfig tunes the orchestrator's polling and completion behavior
type ExtractionConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
	GraceSeconds        int `yaml:"grace_seconds" json:"grace_seconds"` // quiescence window after the remote reports the transfer done
	MaxConcurrentPulls  int `yaml:"max_concurrent_pulls" json:"max_concurrent_pulls"`
}

// RetryConfig controls retry behavior for transient errors
type RetryConfig struct {
	MaxAttempts      int   `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int64 `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() ProjectConfig {
	return ProjectConfig{
		Remote: RemoteConfig{
			APIURL:    "http://localhost:8042",
			DIMSEAddr: "localhost:4242",
			AETitle:   "ORTHANC2",
		},
		Receiver: ReceiverConfig{
			BindAddr: ":11112",
			MoveAddr: "",
			AETitle:  "SIPHON_SCP",
		},
		Output: OutputConfig{
			Root:       "./received",
			LedgerPath: "",
		},
		Extraction: ExtractionConfig{
			PollIntervalSeconds: 5,
			GraceSeconds:        10,
			MaxConcurrentPulls:  4,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
		},
	}
}

// Validate checks if the RemoteConfig has all required fields and valid values
func (c *RemoteConfig) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("remote api_url is required")
	}

	if _, err := url.Parse(c.APIURL); err != nil {
		return fmt.Errorf("invalid remote api_url: %w", err)
	}

	if c.DIMSEAddr == "" {
		return fmt.Errorf("remote dimse_addr is required")
	}

	if err := validateAETitle("remote ae_title", c.AETitle); err != nil {
		return err
	}

	return nil
}

// Validate checks if the ReceiverConfig has all required fields and valid values
func (c *ReceiverConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("receiver bind_addr is required")
	}

	if err := validateAETitle("receiver ae_title", c.AETitle); err != nil {
		return err
	}

	return nil
}

// Validate checks if the ExtractionConfig values are usable
func (c *ExtractionConfig) Validate() error {
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be > 0, got %d", c.PollIntervalSeconds)
	}

	if c.GraceSeconds <= 0 {
		return fmt.Errorf("grace_seconds must be > 0, got %d", c.GraceSeconds)
	}

	if c.MaxConcurrentPulls <= 0 {
		return fmt.Errorf("max_concurrent_pulls must be > 0, got %d", c.MaxConcurrentPulls)
	}

	return nil
}

// PollInterval returns the orchestrator's poll interval as a duration
func (c *ExtractionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GracePeriod returns the post-transfer quiescence window as a duration
func (c *ExtractionConfig) GracePeriod() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// ResolvedLedgerPath returns the configured ledger path, or the default
// location inside the output root when unset
func (c *OutputConfig) ResolvedLedgerPath() string {
	if c.LedgerPath != "" {
		return c.LedgerPath
	}
	return filepath.Join(c.Root, ".processed_studies.json")
}

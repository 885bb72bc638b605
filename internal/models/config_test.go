package models

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
}

func TestDefaultConfig_Values(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "http://localhost:8042", config.Remote.APIURL)
	assert.Equal(t, "localhost:4242", config.Remote.DIMSEAddr)
	assert.Equal(t, "ORTHANC2", config.Remote.AETitle)
	assert.Equal(t, ":11112", config.Receiver.BindAddr)
	assert.Equal(t, "SIPHON_SCP", config.Receiver.AETitle)
	assert.Equal(t, "./received", config.Output.Root)
	assert.Equal(t, 5, config.Extraction.PollIntervalSeconds)
	assert.Equal(t, 10, config.Extraction.GraceSeconds)
	assert.Equal(t, 4, config.Extraction.MaxConcurrentPulls)
	assert.Equal(t, 3, config.Retry.MaxAttempts)
}

func TestProjectConfig_Validate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProjectConfig)
		wantErr string
	}{
		{
			name:    "missing api url",
			mutate:  func(c *ProjectConfig) { c.Remote.APIURL = "" },
			wantErr: "api_url",
		},
		{
			name:    "missing dimse addr",
			mutate:  func(c *ProjectConfig) { c.Remote.DIMSEAddr = "" },
			wantErr: "dimse_addr",
		},
		{
			name:    "missing remote ae title",
			mutate:  func(c *ProjectConfig) { c.Remote.AETitle = "" },
			wantErr: "ae_title",
		},
		{
			name:    "remote ae title too long",
			mutate:  func(c *ProjectConfig) { c.Remote.AETitle = "THIS_IS_SEVENTEEN" },
			wantErr: "exceeds 16 characters",
		},
		{
			name:    "missing receiver bind addr",
			mutate:  func(c *ProjectConfig) { c.Receiver.BindAddr = "" },
			wantErr: "bind_addr",
		},
		{
			name:    "missing output root",
			mutate:  func(c *ProjectConfig) { c.Output.Root = "" },
			wantErr: "output root",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *ProjectConfig) { c.Extraction.PollIntervalSeconds = 0 },
			wantErr: "poll_interval_seconds",
		},
		{
			name:    "negative grace",
			mutate:  func(c *ProjectConfig) { c.Extraction.GraceSeconds = -1 },
			wantErr: "grace_seconds",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *ProjectConfig) { c.Extraction.MaxConcurrentPulls = 0 },
			wantErr: "max_concurrent_pulls",
		},
		{
			name:    "too many retry attempts",
			mutate:  func(c *ProjectConfig) { c.Retry.MaxAttempts = 11 },
			wantErr: "max_attempts",
		},
		{
			name:    "backoff floor above ceiling",
			mutate:  func(c *ProjectConfig) { c.Retry.InitialBackoffMs = 60000 },
			wantErr: "initial_backoff_ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExtractionConfig_Durations(t *testing.T) {
	c := ExtractionConfig{PollIntervalSeconds: 5, GraceSeconds: 10, MaxConcurrentPulls: 4}

	assert.Equal(t, 5*time.Second, c.PollInterval())
	assert.Equal(t, 10*time.Second, c.GracePeriod())
}

func TestOutputConfig_ResolvedLedgerPath(t *testing.T) {
	t.Run("defaults inside the output root", func(t *testing.T) {
		c := OutputConfig{Root: "/data/received"}
		assert.Equal(t, filepath.Join("/data/received", ".processed_studies.json"), c.ResolvedLedgerPath())
	})

	t.Run("explicit path wins", func(t *testing.T) {
		c := OutputConfig{Root: "/data/received", LedgerPath: "/var/lib/siphon/ledger.json"}
		assert.Equal(t, "/var/lib/siphon/ledger.json", c.ResolvedLedgerPath())
	})
}

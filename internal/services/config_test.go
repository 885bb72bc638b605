package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siphon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_FileValues(t *testing.T) {
	viper.Reset()

	configFile := writeConfigFile(t, `
remote:
  api_url: "http://orthanc2:8042"
  dimse_addr: "orthanc2:4242"
  ae_title: "ORTHANC2"
receiver:
  bind_addr: ":12222"
  move_addr: "10.0.0.9:12222"
  ae_title: "SIPHON_SCP"
output:
  root: "/data/received"
  ledger_path: "/data/ledger.json"
extraction:
  poll_interval_seconds: 7
  grace_seconds: 20
  max_concurrent_pulls: 2
retry:
  max_attempts: 5
  initial_backoff_ms: 200
  max_backoff_ms: 5000
`)

	config, err := LoadConfig(configFile)
	require.NoError(t, err)

	assert.Equal(t, "http://orthanc2:8042", config.Remote.APIURL)
	assert.Equal(t, "orthanc2:4242", config.Remote.DIMSEAddr)
	assert.Equal(t, "ORTHANC2", config.Remote.AETitle)
	assert.Equal(t, ":12222", config.Receiver.BindAddr)
	assert.Equal(t, "10.0.0.9:12222", config.Receiver.MoveAddr)
	assert.Equal(t, "SIPHON_SCP", config.Receiver.AETitle)
	assert.Equal(t, "/data/received", config.Output.Root)
	assert.Equal(t, "/data/ledger.json", config.Output.ResolvedLedgerPath())
	assert.Equal(t, 7, config.Extraction.PollIntervalSeconds)
	assert.Equal(t, 20, config.Extraction.GraceSeconds)
	assert.Equal(t, 2, config.Extraction.MaxConcurrentPulls)
	assert.Equal(t, 5, config.Retry.MaxAttempts)
	assert.Equal(t, int64(200), config.Retry.InitialBackoffMs)
	assert.Equal(t, int64(5000), config.Retry.MaxBackoffMs)
}

func TestLoadConfig_DefaultsFillUnsetFields(t *testing.T) {
	viper.Reset()

	configFile := writeConfigFile(t, `
output:
  root: "/data/received"
`)

	config, err := LoadConfig(configFile)
	require.NoError(t, err)

	// File value kept, everything else from defaults
	assert.Equal(t, "/data/received", config.Output.Root)
	assert.Equal(t, "http://localhost:8042", config.Remote.APIURL)
	assert.Equal(t, "ORTHANC2", config.Remote.AETitle)
	assert.Equal(t, ":11112", config.Receiver.BindAddr)
	assert.Equal(t, 5, config.Extraction.PollIntervalSeconds)
	assert.Equal(t, 10, config.Extraction.GraceSeconds)
	assert.Equal(t, 4, config.Extraction.MaxConcurrentPulls)
	assert.Equal(t, 3, config.Retry.MaxAttempts)

	// Unset ledger path resolves inside the output root
	assert.Equal(t, filepath.Join("/data/received", ".processed_studies.json"),
		config.Output.ResolvedLedgerPath())
}

func TestLoadConfig_NoConfigFileUsesDefaults(t *testing.T) {
	viper.Reset()

	config, err := LoadConfig("")
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "http://localhost:8042", config.Remote.APIURL)
	assert.Equal(t, "./received", config.Output.Root)
	assert.Greater(t, config.Retry.MaxAttempts, 0)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	viper.Reset()

	configFile := writeConfigFile(t, `
remote:
  api_url: "http://from-file:8042"
output:
  root: "/data/received"
`)

	t.Setenv("SIPHON_REMOTE_API_URL", "http://from-env:8042")
	t.Setenv("SIPHON_EXTRACTION_GRACE_SECONDS", "42")

	config, err := LoadConfig(configFile)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:8042", config.Remote.APIURL, "environment beats the file")
	assert.Equal(t, 42, config.Extraction.GraceSeconds)
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	viper.Reset()

	configFile := writeConfigFile(t, `
output:
  root: "/data/received"
extraction:
  grace_seconds: -1
`)

	_, err := LoadConfig(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grace_seconds")
}

func TestLoadConfig_RejectsMalformedFile(t *testing.T) {
	viper.Reset()

	configFile := writeConfigFile(t, "{{{ not yaml")

	_, err := LoadConfig(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestGetConfigFilePath(t *testing.T) {
	viper.Reset()
	assert.Equal(t, "", GetConfigFilePath())

	configFile := writeConfigFile(t, `
output:
  root: "/data/received"
`)

	_, err := LoadConfig(configFile)
	require.NoError(t, err)
	assert.Equal(t, configFile, GetConfigFilePath())
}

func TestSetConfigValue(t *testing.T) {
	viper.Reset()

	SetConfigValue("output.root", "/overridden")
	assert.Equal(t, "/overridden", viper.GetString("output.root"))
}

package services

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/trobanga/siphon/internal/models"
)

// LoadConfig loads configuration from file and environment
// Priority order (highest to lowest):
//  1. CLI flags (applied by the commands after loading)
//  2. Environment variables (SIPHON_ prefix)
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string) (*models.ProjectConfig, error) {
	// Set config file path if provided
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		// Search for config in standard locations
		viper.SetConfigName("siphon")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/siphon")
		viper.AddConfigPath("/etc/siphon")
	}

	// Enable environment variable override with SIPHON_ prefix, so
	// remote.api_url becomes SIPHON_REMOTE_API_URL
	viper.SetEnvPrefix("SIPHON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (optional - don't fail if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but couldn't be read
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Build config manually from viper values
	// (Viper.Unmarshal has issues with nested structs in some versions)
	config := models.ProjectConfig{
		Remote: models.RemoteConfig{
			APIURL:    viper.GetString("remote.api_url"),
			DIMSEAddr: viper.GetString("remote.dimse_addr"),
			AETitle:   viper.GetString("remote.ae_title"),
		},
		Receiver: models.ReceiverConfig{
			BindAddr: viper.GetString("receiver.bind_addr"),
			MoveAddr: viper.GetString("receiver.move_addr"),
			AETitle:  viper.GetString("receiver.ae_title"),
		},
		Output: models.OutputConfig{
			Root:       viper.GetString("output.root"),
			LedgerPath: viper.GetString("output.ledger_path"),
		},
		Extraction: models.ExtractionConfig{
			PollIntervalSeconds: viper.GetInt("extraction.poll_interval_seconds"),
			GraceSeconds:        viper.GetInt("extraction.grace_seconds"),
			MaxConcurrentPulls:  viper.GetInt("extraction.max_concurrent_pulls"),
		},
		Retry: models.RetryConfig{
			MaxAttempts:      viper.GetInt("retry.max_attempts"),
			InitialBackoffMs: viper.GetInt64("retry.initial_backoff_ms"),
			MaxBackoffMs:     viper.GetInt64("retry.max_backoff_ms"),
		},
	}

	// Fill anything not set by file or environment from the defaults
	applyDefaults(&config)

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyDefaults fills unset fields in place. Zero values double as
// "unset" here; every tunable has a non-zero default so the distinction
// never bites.
func applyDefaults(config *models.ProjectConfig) {
	defaults := models.DefaultConfig()

	if config.Remote.APIURL == "" {
		config.Remote.APIURL = defaults.Remote.APIURL
	}
	if config.Remote.DIMSEAddr == "" {
		config.Remote.DIMSEAddr = defaults.Remote.DIMSEAddr
	}
	if config.Remote.AETitle == "" {
		config.Remote.AETitle = defaults.Remote.AETitle
	}
	if config.Receiver.BindAddr == "" {
		config.Receiver.BindAddr = defaults.Receiver.BindAddr
	}
	if config.Receiver.AETitle == "" {
		config.Receiver.AETitle = defaults.Receiver.AETitle
	}
	if config.Output.Root == "" {
		config.Output.Root = defaults.Output.Root
	}
	if config.Extraction.PollIntervalSeconds == 0 {
		config.Extraction.PollIntervalSeconds = defaults.Extraction.PollIntervalSeconds
	}
	if config.Extraction.GraceSeconds == 0 {
		config.Extraction.GraceSeconds = defaults.Extraction.GraceSeconds
	}
	if config.Extraction.MaxConcurrentPulls == 0 {
		config.Extraction.MaxConcurrentPulls = defaults.Extraction.MaxConcurrentPulls
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if config.Retry.InitialBackoffMs == 0 {
		config.Retry.InitialBackoffMs = defaults.Retry.InitialBackoffMs
	}
	if config.Retry.MaxBackoffMs == 0 {
		config.Retry.MaxBackoffMs = defaults.Retry.MaxBackoffMs
	}
}

// GetConfigFilePath returns the path to the config file that was loaded
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// SetConfigValue allows runtime override of config values
// Useful for CLI flag overrides
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}

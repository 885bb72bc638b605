package models

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validate checks the whole project configuration
func (c *ProjectConfig) Validate() error {
	if err := c.Remote.Validate(); err != nil {
		return err
	}

	if err := c.Receiver.Validate(); err != nil {
		return err
	}

	if c.Output.Root == "" {
		return errors.New("output root is required")
	}

	if err := c.Extraction.Validate(); err != nil {
		return err
	}

	// Validate retry configuration
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return errors.New("max_attempts must be between 1 and 10")
	}
	if c.Retry.InitialBackoffMs <= 0 {
		return errors.New("initial_backoff_ms must be positive")
	}
	if c.Retry.MaxBackoffMs <= 0 {
		return errors.New("max_backoff_ms must be positive")
	}
	if c.Retry.InitialBackoffMs >= c.Retry.MaxBackoffMs {
		return errors.New("initial_backoff_ms must be less than max_backoff_ms")
	}

	return nil
}

// validateAETitle enforces the 16-character application entity title limit
func validateAETitle(field, title string) error {
	if title == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(title) > 16 {
		return fmt.Errorf("%s %q exceeds 16 characters", field, title)
	}
	if strings.ContainsAny(title, "\\\x00") {
		return fmt.Errorf("%s %q contains invalid characters", field, title)
	}
	return nil
}

// Validate checks that an Instance carries the identity needed to store it
func (i *Instance) Validate() error {
	if i.SOPUID == "" {
		return errors.New("instance is missing SOPInstanceUID")
	}

	if i.StudyUID == "" {
		return errors.New("instance is missing StudyInstanceUID")
	}

	if len(i.Data) == 0 {
		return errors.New("instance has no data")
	}

	return nil
}

// SanitizePathComponent makes an identity value safe to use as a single
// directory or file name. Path separators become underscores; values
// that would escape or vanish collapse to a fixed placeholder.
func SanitizePathComponent(value string) string {
	s := strings.ReplaceAll(value, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, string(os.PathSeparator), "_")

	if s == "" || s == "." || s == ".." {
		return "Unknown"
	}
	return s
}

// ValidateOutputRoot checks if the output directory exists and is writable
// Creates the directory automatically if it doesn't exist
func ValidateOutputRoot(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access output directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("output root is not a directory: %s", path)
	}

	// Check write permission by attempting to create a temp file
	testFile := fmt.Sprintf("%s/.write_test_%s", path, uuid.New().String())
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	return nil
}

// ValidateRemoteConnectivity checks if the remote REST endpoint is reachable
// This performs a lightweight HTTP HEAD request to verify connectivity
func (c *ProjectConfig) ValidateRemoteConnectivity() error {
	client := &http.Client{
		Timeout: 5 * time.Second, // Quick connectivity check
	}

	parsedURL, err := url.Parse(c.Remote.APIURL)
	if err != nil {
		return fmt.Errorf("invalid remote api_url: %w", err)
	}

	checkURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)

	req, err := http.NewRequest("HEAD", checkURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for remote node: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("remote node unreachable at %s: %w", checkURL, err)
	}
	_ = resp.Body.Close()

	// Any response (even 404) means the host is reachable
	return nil
}

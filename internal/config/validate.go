package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// qualityPattern matches the selectable quality labels: the auto entry
// or a vertical resolution like "1080p".
var qualityPattern = regexp.MustCompile(`^([1-9][0-9]*p|auto)$`)

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	// Stream URL is required
	if cfg.StreamURL == "" {
		errs = append(errs, ValidationError{
			Field:   "stream_url",
			Message: "stream URL is required",
		})
	}

	// Validate stream URL format if provided
	if cfg.StreamURL != "" {
		if err := validateURL(cfg.StreamURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "stream_url",
				Message: err.Error(),
			})
		}
	}

	// Players must be positive
	if cfg.Players < 1 {
		errs = append(errs, ValidationError{
			Field:   "players",
			Message: "must be at least 1",
		})
	}

	// Quality label must be valid
	if !qualityPattern.MatchString(cfg.Quality) {
		errs = append(errs, ValidationError{
			Field:   "quality",
			Message: fmt.Sprintf(`must be "auto" or a resolution like "1080p" (got %q)`, cfg.Quality),
		})
	}

	// Buffer-ahead must be positive
	if cfg.BufferAhead <= 0 {
		errs = append(errs, ValidationError{
			Field:   "buffer_ahead",
			Message: "must be positive",
		})
	}

	// Timeout must be positive
	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must be positive",
		})
	}

	// Clock rate must be positive
	if cfg.ClockRate <= 0 {
		errs = append(errs, ValidationError{
			Field:   "clock_rate",
			Message: "must be positive",
		})
	}

	// Ramp rate must be positive
	if cfg.RampRate < 1 {
		errs = append(errs, ValidationError{
			Field:   "ramp_rate",
			Message: "must be at least 1",
		})
	}

	// Backoff must grow
	if cfg.BackoffMultiply < 1.0 {
		errs = append(errs, ValidationError{
			Field:   "backoff_multiply",
			Message: "must be at least 1.0",
		})
	}
	if cfg.BackoffInitial <= 0 {
		errs = append(errs, ValidationError{
			Field:   "backoff_initial",
			Message: "must be positive",
		})
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		errs = append(errs, ValidationError{
			Field:   "backoff_max",
			Message: "must be at least backoff_initial",
		})
	}

	// Telemetry URL format if provided
	if cfg.TelemetryURL != "" {
		if err := validateURL(cfg.TelemetryURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "telemetry_url",
				Message: err.Error(),
			})
		}
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateURL checks if the URL is valid and uses http or https.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}

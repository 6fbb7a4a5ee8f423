// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invowk/realmbridge/internal/manifest"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
)

const (
	// LogLevelDebug logs discovery decisions and runtime diagnostics.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs skipped modules and tolerated failures only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs failures only.
	LogLevelError LogLevel = "error"

	// DefaultStartLevel is the beginning start level of new runtimes.
	DefaultStartLevel = 6
	// DefaultStopTimeout bounds the wait for a runtime to stop.
	DefaultStopTimeout = 10 * time.Second
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidPattern is returned for malformed include or exclude patterns.
	ErrInvalidPattern = errors.New("invalid module pattern")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is a configured log level name.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidPatternError reports a malformed glob pattern.
	// It wraps ErrInvalidPattern for errors.Is() compatibility.
	InvalidPatternError struct {
		Field   string
		Pattern string
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// LogLevel is the minimum level written to the log.
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
		// StorageDir holds per-runtime storage; empty means os.TempDir().
		StorageDir string `json:"storage_dir" mapstructure:"storage_dir"`
		// StopTimeout bounds the wait for a runtime to stop on disposal.
		StopTimeout time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
		// StartLevel is the beginning start level of new runtimes.
		StartLevel int `json:"start_level" mapstructure:"start_level"`
		// Descriptor is the resource scanned for module manifests.
		Descriptor string `json:"descriptor" mapstructure:"descriptor"`
		// Provider pins the runtime factory when several are declared.
		Provider string `json:"provider" mapstructure:"provider"`
		// Include lists glob patterns a module identifier must match, if any.
		Include []string `json:"include" mapstructure:"include"`
		// Exclude lists glob patterns that reject a module identifier.
		Exclude []string `json:"exclude" mapstructure:"exclude"`
		// Properties are extra runtime properties.
		Properties map[string]string `json:"properties" mapstructure:"properties"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    LogLevelInfo,
		StopTimeout: DefaultStopTimeout,
		StartLevel:  DefaultStartLevel,
		Descriptor:  manifest.Path,
		Properties:  map[string]string{},
	}
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// Validate returns nil if the level is recognized.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return &InvalidLogLevelError{Value: l}
	}
}

// Level converts the level for charmbracelet/log, falling back to info.
func (l LogLevel) Level() log.Level {
	lvl, err := log.ParseLevel(string(l))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Error implements the error interface for InvalidPatternError.
func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("%s: malformed pattern %q", e.Field, e.Pattern)
}

// Unwrap returns ErrInvalidPattern for errors.Is() compatibility.
func (e *InvalidPatternError) Unwrap() error { return ErrInvalidPattern }

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks constraints the CUE schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	if err := c.LogLevel.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout))
	}
	if c.StartLevel < 1 {
		errs = append(errs, fmt.Errorf("start_level must be at least 1, got %d", c.StartLevel))
	}
	for _, p := range c.Include {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, &InvalidPatternError{Field: "include", Pattern: p})
		}
	}
	for _, p := range c.Exclude {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, &InvalidPatternError{Field: "exclude", Pattern: p})
		}
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Accepts reports whether the module identifier passes the include and
// exclude patterns. An empty include list accepts every identifier.
func (c *Config) Accepts(id string) bool {
	for _, p := range c.Exclude {
		if ok, _ := doublestar.Match(p, id); ok {
			return false
		}
	}
	if len(c.Include) == 0 {
		return true
	}
	for _, p := range c.Include {
		if ok, _ := doublestar.Match(p, id); ok {
			return true
		}
	}
	return false
}

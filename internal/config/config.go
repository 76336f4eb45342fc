// Package config holds broadcast configuration: ingest profile and
// credentials, segmentation parameters, and pipeline limits. Values are
// resolved with flag > environment > file precedence, the changed-flags
// map tracking what the CLI set explicitly.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fragship/fragship/internal/domain"
)

// DefaultProfile is the ingest profile used when none is configured.
const DefaultProfile = "youtube"

// Config holds the configuration for a broadcast session.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config struct {
	// Profile names the ingest profile (see Profiles).
	Profile string

	// IngestURL overrides the profile's ingest endpoint. Required for the
	// "custom" profile, optional otherwise.
	IngestURL string

	// StreamKey authenticates the broadcast. Left empty, every upload
	// attempt fails fast as a configuration error until a key is supplied
	// (flags, environment, or a config-file change mid-session).
	StreamKey string

	// SessionID identifies this broadcast. Generated when empty.
	SessionID string

	// FragmentDuration is the target fragment length.
	FragmentDuration time.Duration

	// MinFragmentDuration is the floor below which a trailing fragment is
	// discarded.
	MinFragmentDuration time.Duration

	// OverlayGridWidth is the dirty-region search granularity in pixels.
	OverlayGridWidth int

	// MaxBufferedFragments bounds the pending upload queue.
	MaxBufferedFragments int

	// MaxConcurrentUploads bounds in-flight transfers.
	MaxConcurrentUploads int

	// MaxUploadRetries is the per-fragment attempt ceiling.
	MaxUploadRetries int

	// BackoffInitial and BackoffMax shape the retry delay curve.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// HTTPTimeout bounds a single upload attempt.
	HTTPTimeout time.Duration

	// JournalCapacity bounds the diagnostic log.
	JournalCapacity int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Profile:              DefaultProfile,
		StreamKey:            os.Getenv("FRAGSHIP_STREAM_KEY"),
		FragmentDuration:     2 * time.Second,
		MinFragmentDuration:  10 * time.Millisecond,
		OverlayGridWidth:     160,
		MaxBufferedFragments: 90,
		MaxConcurrentUploads: 3,
		MaxUploadRetries:     30,
		BackoffInitial:       500 * time.Millisecond,
		BackoffMax:           10 * time.Second,
		HTTPTimeout:          30 * time.Second,
		JournalCapacity:      1000,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Profile == "" {
		c.Profile = DefaultProfile
	}

	profile, ok := Profiles[c.Profile]
	if !ok {
		return fmt.Errorf("%w: unknown ingest profile %q", domain.ErrInvalidConfig, c.Profile)
	}
	if c.IngestURL == "" {
		c.IngestURL = profile.URL
	}
	if c.IngestURL == "" {
		return fmt.Errorf("%w: ingest-url is required for profile %q", domain.ErrInvalidConfig, c.Profile)
	}
	// Ensure no trailing slash
	if c.IngestURL[len(c.IngestURL)-1] == '/' {
		c.IngestURL = c.IngestURL[:len(c.IngestURL)-1]
	}

	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}

	if c.FragmentDuration <= 0 {
		return fmt.Errorf("%w: fragment duration must be positive", domain.ErrInvalidConfig)
	}
	if c.MinFragmentDuration < 0 || c.MinFragmentDuration >= c.FragmentDuration {
		return fmt.Errorf("%w: minimum fragment duration must be shorter than the target", domain.ErrInvalidConfig)
	}
	if c.OverlayGridWidth <= 0 {
		return fmt.Errorf("%w: overlay grid width must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxBufferedFragments <= 0 {
		return fmt.Errorf("%w: max buffered fragments must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxConcurrentUploads <= 0 {
		return fmt.Errorf("%w: max concurrent uploads must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxConcurrentUploads > c.MaxBufferedFragments {
		return fmt.Errorf("%w: concurrent uploads cannot exceed the fragment buffer", domain.ErrInvalidConfig)
	}
	if c.MaxUploadRetries <= 0 {
		return fmt.Errorf("%w: max upload retries must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

var pkgLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

// Logger returns the package-level zerolog logger used by the CLI before
// the structured pipeline logger is wired.
func Logger() zerolog.Logger {
	return pkgLogger
}

// configSetter helps apply configuration values while respecting flag
// precedence. It only applies values if the corresponding flag hasn't
// been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s duration %q: %w", flag, value, err)
	}
	*dst = d
	return nil
}

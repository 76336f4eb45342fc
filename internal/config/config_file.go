package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Profile              string `toml:"profile"`
	IngestURL            string `toml:"ingest_url"`
	StreamKey            string `toml:"stream_key"`
	SessionID            string `toml:"session_id"`
	FragmentDuration     string `toml:"fragment_duration"`
	MinFragmentDuration  string `toml:"min_fragment_duration"`
	OverlayGridWidth     int    `toml:"overlay_grid_width"`
	MaxBufferedFragments int    `toml:"max_buffered_fragments"`
	MaxConcurrentUploads int    `toml:"max_concurrent_uploads"`
	MaxUploadRetries     int    `toml:"max_upload_retries"`
	BackoffInitial       string `toml:"backoff_initial"`
	BackoffMax           string `toml:"backoff_max"`
	HTTPTimeout          string `toml:"http_timeout"`
	JournalCapacity      int    `toml:"journal_capacity"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.fragship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".fragship", "config.toml")
	}
	return ""
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("profile", fc.Profile, &cfg.Profile)
	s.setString("ingest-url", fc.IngestURL, &cfg.IngestURL)
	s.setString("stream-key", fc.StreamKey, &cfg.StreamKey)
	s.setString("session-id", fc.SessionID, &cfg.SessionID)

	if err := s.setDuration("fragment-duration", fc.FragmentDuration, &cfg.FragmentDuration); err != nil {
		return err
	}
	if err := s.setDuration("min-fragment-duration", fc.MinFragmentDuration, &cfg.MinFragmentDuration); err != nil {
		return err
	}
	if err := s.setDuration("backoff-initial", fc.BackoffInitial, &cfg.BackoffInitial); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", fc.BackoffMax, &cfg.BackoffMax); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setInt("overlay-grid", fc.OverlayGridWidth, &cfg.OverlayGridWidth)
	s.setInt("max-buffered", fc.MaxBufferedFragments, &cfg.MaxBufferedFragments)
	s.setInt("max-concurrent", fc.MaxConcurrentUploads, &cfg.MaxConcurrentUploads)
	s.setInt("max-retries", fc.MaxUploadRetries, &cfg.MaxUploadRetries)
	s.setInt("journal-capacity", fc.JournalCapacity, &cfg.JournalCapacity)

	return nil
}

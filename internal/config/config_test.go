package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fragship/fragship/internal/domain"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Profile = "custom"
	cfg.IngestURL = "https://ingest.test/hls"
	cfg.StreamKey = "key-123"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StreamKey = "key-123"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.IngestURL != Profiles["youtube"].URL {
		t.Errorf("IngestURL = %q, want youtube profile URL", cfg.IngestURL)
	}
	if cfg.SessionID == "" {
		t.Error("SessionID not generated")
	}
}

func TestValidate_EmptyStreamKeyAllowed(t *testing.T) {
	// A missing stream key is a runtime configuration error surfaced by
	// the upload path, not a validation failure: the session must start
	// so the key can be supplied mid-session.
	cfg := validConfig()
	cfg.StreamKey = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate with empty stream key = %v", err)
	}
}

func TestValidate_StripsTrailingSlash(t *testing.T) {
	cfg := validConfig()
	cfg.IngestURL = "https://ingest.test/hls/"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.IngestURL != "https://ingest.test/hls" {
		t.Errorf("IngestURL = %q", cfg.IngestURL)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown profile", func(c *Config) { c.Profile = "twitch" }},
		{"custom without url", func(c *Config) { c.IngestURL = "" }},
		{"zero fragment duration", func(c *Config) { c.FragmentDuration = 0 }},
		{"min above target", func(c *Config) { c.MinFragmentDuration = 3 * time.Second }},
		{"zero grid", func(c *Config) { c.OverlayGridWidth = 0 }},
		{"zero buffer", func(c *Config) { c.MaxBufferedFragments = 0 }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrentUploads = 0 }},
		{"concurrency above buffer", func(c *Config) { c.MaxBufferedFragments = 2; c.MaxConcurrentUploads = 3 }},
		{"zero retries", func(c *Config) { c.MaxUploadRetries = 0 }},
	}
	for _, tt := range tests {
		cfg := validConfig()
		tt.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("%s: Validate = %v, want ErrInvalidConfig", tt.name, err)
		}
	}
}

func TestLoadFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
profile = "custom"
ingest_url = "https://ingest.test/hls"
stream_key = "file-key"
fragment_duration = "4s"
max_buffered_fragments = 120
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if fc.Profile != "custom" || fc.StreamKey != "file-key" {
		t.Errorf("parsed config = %+v", fc)
	}
	if fc.FragmentDuration != "4s" || fc.MaxBufferedFragments != 120 {
		t.Errorf("parsed config = %+v", fc)
	}

	if _, err := LoadFileConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file did not error")
	}
}

func TestApplyFileConfig_RespectsFlagPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profile = "custom"
	cfg.StreamKey = "flag-key"

	fc := FileConfig{
		Profile:          "youtube",
		StreamKey:        "file-key",
		FragmentDuration: "4s",
	}
	changed := map[string]bool{"stream-key": true}

	if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
		t.Fatal(err)
	}
	if cfg.StreamKey != "flag-key" {
		t.Errorf("StreamKey = %q, flag must win over file", cfg.StreamKey)
	}
	if cfg.Profile != "youtube" {
		t.Errorf("Profile = %q, file must apply when flag unset", cfg.Profile)
	}
	if cfg.FragmentDuration != 4*time.Second {
		t.Errorf("FragmentDuration = %v, want 4s", cfg.FragmentDuration)
	}
}

func TestApplyFileConfig_BadDuration(t *testing.T) {
	cfg := DefaultConfig()
	fc := FileConfig{FragmentDuration: "four seconds"}
	if err := ApplyFileConfig(&cfg, fc, nil); err == nil {
		t.Error("invalid duration accepted")
	}
}

func TestApplyEnvConfig(t *testing.T) {
	t.Setenv(EnvStreamKey, "env-key")
	t.Setenv(EnvProfile, "custom")

	cfg := DefaultConfig()
	cfg.StreamKey = "file-key"
	ApplyEnvConfig(&cfg, nil)
	if cfg.StreamKey != "env-key" {
		t.Errorf("StreamKey = %q, env must win over file", cfg.StreamKey)
	}
	if cfg.Profile != "custom" {
		t.Errorf("Profile = %q", cfg.Profile)
	}

	// Flags still win over environment.
	cfg = DefaultConfig()
	cfg.StreamKey = "flag-key"
	ApplyEnvConfig(&cfg, map[string]bool{"stream-key": true})
	if cfg.StreamKey != "flag-key" {
		t.Errorf("StreamKey = %q, flag must win over env", cfg.StreamKey)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if FileExists(path) {
		t.Error("missing file reported as existing")
	}
	if err := os.WriteFile(path, []byte("profile = \"custom\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("regular file not detected")
	}
	if FileExists(dir) {
		t.Error("directory reported as regular file")
	}
}

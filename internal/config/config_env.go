package config

import "os"

// Environment variable names recognized by ApplyEnvConfig.
const (
	EnvStreamKey = "FRAGSHIP_STREAM_KEY"
	EnvIngestURL = "FRAGSHIP_INGEST_URL"
	EnvProfile   = "FRAGSHIP_PROFILE"
	EnvSessionID = "FRAGSHIP_SESSION_ID"
)

// ApplyEnvConfig applies FRAGSHIP_* environment variables to the Config.
// Environment values override file config but are overridden by flags
// (tracked via the changed map).
func ApplyEnvConfig(cfg *Config, changed map[string]bool) {
	s := newConfigSetter(changed)

	s.setString("stream-key", os.Getenv(EnvStreamKey), &cfg.StreamKey)
	s.setString("ingest-url", os.Getenv(EnvIngestURL), &cfg.IngestURL)
	s.setString("profile", os.Getenv(EnvProfile), &cfg.Profile)
	s.setString("session-id", os.Getenv(EnvSessionID), &cfg.SessionID)
}

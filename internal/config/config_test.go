package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}

	if cfg.NoInput.ThresholdMs != 3000 {
		t.Errorf("Expected default no-input threshold 3000ms, got %d", cfg.NoInput.ThresholdMs)
	}
	if cfg.Stream.KeepAlive {
		t.Error("Expected keep-alive to be disabled by default")
	}
	if cfg.Stream.WarmupChunks != 0 {
		t.Errorf("Expected warm-up disabled by default, got %d chunks", cfg.Stream.WarmupChunks)
	}
	if cfg.Auth.Audience != "tinkoff.cloud.stt" {
		t.Errorf("Expected default audience, got %q", cfg.Auth.Audience)
	}
}

func TestLoadAppliesDefaultsToMissingFields(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "debug"

[recognition]
language_code = "en-US"
sample_rate_hz = 8000
interim_results = true
interim_interval_sec = 0.5

[recognition.vad]
silence_prob_threshold = 0.4
silence_duration_threshold = 0.6

[stream]
pacing_ms = 100
keep_alive = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Expected default format console, got %q", cfg.Logging.Format)
	}
	if cfg.Recognition.LanguageCode != "en-US" || cfg.Recognition.SampleRateHz != 8000 {
		t.Errorf("Unexpected recognition section: %+v", cfg.Recognition)
	}
	if cfg.Recognition.VAD == nil || cfg.Recognition.VAD.SilenceProbThreshold != 0.4 {
		t.Errorf("Expected VAD section to be decoded, got %+v", cfg.Recognition.VAD)
	}
	if cfg.Stream.KeepAliveMs != 10 {
		t.Errorf("Expected default keep-alive interval 10ms, got %d", cfg.Stream.KeepAliveMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected loaded config to be valid, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadWithFallbackPreferredMissing(t *testing.T) {
	if _, err := LoadWithFallback(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected error when the explicitly requested file is missing")
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"bad encoding", func(c *Config) { c.Recognition.Encoding = "FLAC" }, "invalid recognition encoding"},
		{"zero sample rate", func(c *Config) { c.Recognition.SampleRateHz = -1 }, "invalid sample_rate_hz"},
		{"unbounded queue", func(c *Config) { c.Stream.QueueSize = -1 }, "queue_size"},
		{"negative pacing", func(c *Config) { c.Stream.PacingMs = -5 }, "pacing_ms"},
		{"probability out of range", func(c *Config) {
			c.Recognition.VAD = &VADConfig{SilenceProbThreshold: 1.5}
		}, "silence_prob_threshold"},
		{"negative duration", func(c *Config) {
			c.Recognition.VAD = &VADConfig{MinSpeechDuration: -1}
		}, "min_speech_duration"},
		{"keep-alive without interval", func(c *Config) {
			c.Stream.KeepAlive = true
			c.Stream.KeepAliveMs = -1
		}, "keep_alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestCredentialsFromLookup(t *testing.T) {
	secret := []byte("super-secret-key")
	env := map[string]string{
		"TCS_APIKEY": "key-id",
		"TCS_SECRET": base64.StdEncoding.EncodeToString(secret),
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	creds, err := CredentialsFromLookup(Default().Credentials, lookup)
	if err != nil {
		t.Fatalf("CredentialsFromLookup failed: %v", err)
	}
	if creds.APIKeyID != "key-id" {
		t.Errorf("Expected api key id 'key-id', got %q", creds.APIKeyID)
	}
	if string(creds.SecretKey) != string(secret) {
		t.Errorf("Expected decoded secret %q, got %q", secret, creds.SecretKey)
	}
}

func TestCredentialsFromLookupErrors(t *testing.T) {
	cfg := Default().Credentials

	missing := func(string) (string, bool) { return "", false }
	if _, err := CredentialsFromLookup(cfg, missing); err == nil {
		t.Error("Expected error when variables are unset")
	}

	badSecret := func(k string) (string, bool) {
		if k == cfg.APIKeyEnv {
			return "key-id", true
		}
		return "not base64!", true
	}
	if _, err := CredentialsFromLookup(cfg, badSecret); err == nil {
		t.Error("Expected error for malformed base64 secret")
	}
}

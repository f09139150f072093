package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Logging     LoggingConfig     `toml:"logging"`     // Application logging settings
	Credentials CredentialsConfig `toml:"credentials"` // Where API credentials are read from
	Auth        AuthConfig        `toml:"auth"`        // Token claim settings
	Endpoint    EndpointConfig    `toml:"endpoint"`    // Recognition service endpoint settings
	Recognition RecognitionConfig `toml:"recognition"` // Session configuration sent as the first request
	Stream      StreamConfig      `toml:"stream"`      // Outbound pacing and flow control
	NoInput     NoInputConfig     `toml:"no_input"`    // Client-side no-input detection policy
	Debug       DebugConfig       `toml:"debug"`       // Optional debug HTTP listener
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// CredentialsConfig names the environment inputs holding the API key pair
type CredentialsConfig struct {
	APIKeyEnv string `toml:"api_key_env"` // Environment variable with the API key identifier (default: TCS_APIKEY)
	SecretEnv string `toml:"secret_env"`  // Environment variable with the base64-encoded secret key (default: TCS_SECRET)
}

// AuthConfig contains the fixed claims placed in every session token
type AuthConfig struct {
	Issuer   string `toml:"issuer"`   // "iss" claim identifying this client
	Subject  string `toml:"subject"`  // "sub" claim identifying the calling principal
	Audience string `toml:"audience"` // "aud" claim identifying the recognition service
}

// EndpointConfig contains recognition service connection settings
type EndpointConfig struct {
	Address  string `toml:"address"`  // host:port of the streaming RPC endpoint
	Insecure bool   `toml:"insecure"` // Disable TLS (local testing only)
}

// RecognitionConfig mirrors the session configuration sent to the service
type RecognitionConfig struct {
	Encoding             string     `toml:"encoding"`              // Audio encoding: LINEAR16, MULAW, ALAW, RAW_OPUS, MPEG_AUDIO
	SampleRateHz         int        `toml:"sample_rate_hz"`        // Sample rate of the audio in Hz
	LanguageCode         string     `toml:"language_code"`         // Recognition language (e.g., "ru-RU")
	Model                string     `toml:"model"`                 // Optional recognition model name
	MaxAlternatives      int        `toml:"max_alternatives"`      // Maximum number of alternatives per result
	ProfanityFilter      bool       `toml:"profanity_filter"`      // Mask profanity in transcripts
	AutomaticPunctuation bool       `toml:"automatic_punctuation"` // Insert punctuation
	NumChannels          int        `toml:"num_channels"`          // Number of audio channels
	Denormalization      bool       `toml:"denormalization"`       // Convert spoken numbers etc. to written form
	SentimentAnalysis    bool       `toml:"sentiment_analysis"`    // Request sentiment analysis
	GenderIdentification bool       `toml:"gender_identification"` // Request speaker gender identification
	SingleUtterance      bool       `toml:"single_utterance"`      // End recognition after the first utterance
	InterimResults       bool       `toml:"interim_results"`       // Request non-final results
	InterimIntervalSec   float64    `toml:"interim_interval_sec"`  // Interval between interim results in seconds
	VAD                  *VADConfig `toml:"vad"`                   // Voice activity detection parameters (omit to use service defaults)
}

// VADConfig contains voice activity detection parameters
type VADConfig struct {
	MinSpeechDuration        float64 `toml:"min_speech_duration"`        // Seconds
	MaxSpeechDuration        float64 `toml:"max_speech_duration"`        // Seconds
	SilenceDurationThreshold float64 `toml:"silence_duration_threshold"` // Seconds
	SilenceProbThreshold     float64 `toml:"silence_prob_threshold"`     // 0.0-1.0
	Aggressiveness           float64 `toml:"aggressiveness"`             // Service-specific scale
	SilenceMax               float64 `toml:"silence_max"`                // Seconds
	SilenceMin               float64 `toml:"silence_min"`                // Seconds
}

// StreamConfig contains outbound pacing and flow control settings
type StreamConfig struct {
	ChunkSize       int  `toml:"chunk_size"`        // Bytes read from the audio source per chunk
	PacingMs        int  `toml:"pacing_ms"`         // Delay after each chunk in milliseconds (0 for live sources)
	QueueSize       int  `toml:"queue_size"`        // Bounded hand-off queue capacity between producer and transport
	WarmupChunks    int  `toml:"warmup_chunks"`     // Number of silence chunks sent before real audio (0 disables warm-up)
	WarmupChunkSize int  `toml:"warmup_chunk_size"` // Size of each warm-up silence chunk in bytes
	WarmupMs        int  `toml:"warmup_ms"`         // Interval between warm-up chunks in milliseconds
	KeepAlive       bool `toml:"keep_alive"`        // Keep emitting filler after the source is exhausted
	KeepAliveSize   int  `toml:"keep_alive_size"`   // Size of each filler chunk in bytes
	KeepAliveMs     int  `toml:"keep_alive_ms"`     // Interval between filler chunks in milliseconds
}

// NoInputConfig contains the no-input detection policy
type NoInputConfig struct {
	ThresholdMs       int  `toml:"threshold_ms"`        // Open non-final segment longer than this ends the session
	InspectAllResults bool `toml:"inspect_all_results"` // Inspect every result of an event instead of only the first
}

// DebugConfig contains settings for the optional debug HTTP listener
type DebugConfig struct {
	ListenAddr string `toml:"listen_addr"` // Address for /metrics and /healthz (empty disables the listener)
}

// Credentials holds the decoded API key pair. It is built once at startup
// and passed explicitly to the token issuer.
type Credentials struct {
	APIKeyID  string
	SecretKey []byte
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load loads configuration from the given TOML file and applies defaults
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// LoadWithFallback tries the preferred path, then the conventional locations.
// When no file exists at all, the built-in defaults are returned.
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true

		if _, err := os.Stat(path); err != nil {
			if path == preferredPath {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			continue
		}

		config, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		return config, nil
	}

	return Default(), nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Credentials.APIKeyEnv == "" {
		c.Credentials.APIKeyEnv = "TCS_APIKEY"
	}
	if c.Credentials.SecretEnv == "" {
		c.Credentials.SecretEnv = "TCS_SECRET"
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "recog"
	}
	if c.Auth.Subject == "" {
		c.Auth.Subject = "sttstream"
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = "tinkoff.cloud.stt"
	}

	if c.Endpoint.Address == "" {
		c.Endpoint.Address = "api.tinkoff.ai:443"
	}

	if c.Recognition.Encoding == "" {
		c.Recognition.Encoding = "LINEAR16"
	}
	if c.Recognition.SampleRateHz == 0 {
		c.Recognition.SampleRateHz = 16000
	}
	if c.Recognition.LanguageCode == "" {
		c.Recognition.LanguageCode = "ru-RU"
	}
	if c.Recognition.MaxAlternatives == 0 {
		c.Recognition.MaxAlternatives = 1
	}
	if c.Recognition.NumChannels == 0 {
		c.Recognition.NumChannels = 1
	}

	if c.Stream.ChunkSize == 0 {
		c.Stream.ChunkSize = 3200 // 100ms of 16kHz mono LINEAR16
	}
	if c.Stream.QueueSize == 0 {
		c.Stream.QueueSize = 16
	}
	if c.Stream.WarmupChunkSize == 0 {
		c.Stream.WarmupChunkSize = c.Stream.ChunkSize
	}
	if c.Stream.KeepAliveSize == 0 {
		c.Stream.KeepAliveSize = c.Stream.ChunkSize
	}
	if c.Stream.KeepAliveMs == 0 {
		c.Stream.KeepAliveMs = 10
	}

	if c.NoInput.ThresholdMs == 0 {
		c.NoInput.ThresholdMs = 3000
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Endpoint.Address == "" {
		return fmt.Errorf("endpoint address is required")
	}

	if err := c.ValidateRecognition(); err != nil {
		return err
	}

	if err := c.ValidateStream(); err != nil {
		return err
	}

	if c.NoInput.ThresholdMs < 0 {
		return fmt.Errorf("invalid no_input threshold_ms: %d (must be >= 0)", c.NoInput.ThresholdMs)
	}

	return nil
}

// ValidateRecognition validates the session configuration section
func (c *Config) ValidateRecognition() error {
	r := c.Recognition

	switch strings.ToUpper(r.Encoding) {
	case "LINEAR16", "MULAW", "ALAW", "RAW_OPUS", "MPEG_AUDIO":
		// Valid encoding
	default:
		return fmt.Errorf("invalid recognition encoding: %s", r.Encoding)
	}

	if r.SampleRateHz <= 0 {
		return fmt.Errorf("invalid sample_rate_hz: %d", r.SampleRateHz)
	}
	if r.MaxAlternatives < 0 {
		return fmt.Errorf("invalid max_alternatives: %d", r.MaxAlternatives)
	}
	if r.NumChannels <= 0 {
		return fmt.Errorf("invalid num_channels: %d", r.NumChannels)
	}
	if r.InterimIntervalSec < 0 {
		return fmt.Errorf("invalid interim_interval_sec: %g", r.InterimIntervalSec)
	}

	if v := r.VAD; v != nil {
		durations := map[string]float64{
			"min_speech_duration":        v.MinSpeechDuration,
			"max_speech_duration":        v.MaxSpeechDuration,
			"silence_duration_threshold": v.SilenceDurationThreshold,
			"silence_max":                v.SilenceMax,
			"silence_min":                v.SilenceMin,
		}
		for name, d := range durations {
			if d < 0 {
				return fmt.Errorf("invalid vad %s: %g (must be >= 0)", name, d)
			}
		}
		if v.SilenceProbThreshold < 0 || v.SilenceProbThreshold > 1 {
			return fmt.Errorf("invalid vad silence_prob_threshold: %g (must be within 0.0-1.0)", v.SilenceProbThreshold)
		}
	}

	return nil
}

// ValidateStream validates pacing and flow control settings
func (c *Config) ValidateStream() error {
	s := c.Stream

	if s.ChunkSize <= 0 {
		return fmt.Errorf("invalid stream chunk_size: %d", s.ChunkSize)
	}
	if s.PacingMs < 0 {
		return fmt.Errorf("invalid stream pacing_ms: %d", s.PacingMs)
	}
	if s.QueueSize <= 0 {
		return fmt.Errorf("invalid stream queue_size: %d (must be bounded and positive)", s.QueueSize)
	}
	if s.WarmupChunks < 0 || s.WarmupMs < 0 || s.WarmupChunkSize <= 0 {
		return fmt.Errorf("invalid stream warm-up settings: chunks=%d size=%d interval_ms=%d",
			s.WarmupChunks, s.WarmupChunkSize, s.WarmupMs)
	}
	if s.KeepAlive && (s.KeepAliveSize <= 0 || s.KeepAliveMs <= 0) {
		return fmt.Errorf("keep_alive requires positive keep_alive_size and keep_alive_ms")
	}

	return nil
}

// LoadCredentials reads the API key pair from the configured environment
// variables and decodes the secret.
func (c *Config) LoadCredentials() (Credentials, error) {
	return CredentialsFromLookup(c.Credentials, os.LookupEnv)
}

// CredentialsFromLookup resolves credentials through the given lookup
// function. The secret must be standard base64.
func CredentialsFromLookup(cfg CredentialsConfig, lookup func(string) (string, bool)) (Credentials, error) {
	apiKey, ok := lookup(cfg.APIKeyEnv)
	if !ok || apiKey == "" {
		return Credentials{}, fmt.Errorf("environment variable %s is not set", cfg.APIKeyEnv)
	}

	encoded, ok := lookup(cfg.SecretEnv)
	if !ok || encoded == "" {
		return Credentials{}, fmt.Errorf("environment variable %s is not set", cfg.SecretEnv)
	}

	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to decode %s as base64: %w", cfg.SecretEnv, err)
	}

	return Credentials{APIKeyID: apiKey, SecretKey: secret}, nil
}

// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Audio     AudioConfig
	Storage   StorageConfig
	Session   SessionConfig
	Groq      GroqConfig
	TTS       TTSConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// AuthConfig holds connection authentication configuration.
type AuthConfig struct {
	Token          string `envconfig:"WS_TOKEN" default:"mysecrettoken123"`
	MaxConnections int    `envconfig:"MAX_CONNECTIONS" default:"1"`
}

// AudioConfig holds audio ingestion configuration.
type AudioConfig struct {
	ChunkSizeBytes int `envconfig:"CHUNK_SIZE_BYTES" default:"16000"` // ~0.5s at 16kHz PCM16
	SampleRate     int `envconfig:"SAMPLE_RATE" default:"16000"`
	SeqTolerance   int `envconfig:"SEQ_TOLERANCE" default:"5"`
	AckInterval    int `envconfig:"ACK_INTERVAL" default:"4"`
}

// StorageConfig holds temp storage and quota configuration.
type StorageConfig struct {
	TempDir           string `envconfig:"TEMP_DIR" default:"./temp"`
	MaxSessionDiskMB  int64  `envconfig:"MAX_SESSION_DISK_MB" default:"100"`
	SweepIntervalSec  int    `envconfig:"STORAGE_SWEEP_INTERVAL_SEC" default:"300"`
	MaxImageSizeBytes int64  `envconfig:"MAX_IMAGE_SIZE_BYTES" default:"2097152"` // 2MB
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	GraceSec            int `envconfig:"SESSION_GRACE_SEC" default:"30"`
	SweepIntervalSec    int `envconfig:"SESSION_SWEEP_INTERVAL_SEC" default:"60"`
	MaxRerecordAttempts int `envconfig:"MAX_RERECORD_ATTEMPTS" default:"2"`
	MaxHistoryTurns     int `envconfig:"MAX_HISTORY_TURNS" default:"10"`
	MinTranscriptLen    int `envconfig:"MIN_TRANSCRIPT_LEN" default:"3"`
}

// GroqConfig holds external Groq API configuration (STT + LLM).
type GroqConfig struct {
	APIKey        string `envconfig:"GROQ_API_KEY" default:""`
	BaseURL       string `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai/v1"`
	STTModel      string `envconfig:"GROQ_STT_MODEL" default:"whisper-large-v3-turbo"`
	LLMModel      string `envconfig:"GROQ_LLM_MODEL" default:"meta-llama/llama-4-maverick-17b-128e-instruct"`
	FallbackModel string `envconfig:"GROQ_FALLBACK_MODEL" default:""`
	RetryAttempts int    `envconfig:"GROQ_RETRY_ATTEMPTS" default:"3"`
	TimeoutSec    int    `envconfig:"GROQ_TIMEOUT_SEC" default:"60"`
	Language      string `envconfig:"STT_LANGUAGE" default:"en"`
}

// TTSConfig holds speech synthesis configuration.
type TTSConfig struct {
	DownloadExpirySec int `envconfig:"PLAYBACK_URL_EXP_SEC" default:"300"`
	PacingDelayMs     int `envconfig:"TTS_PACING_DELAY_MS" default:"10"`
	QueueDepth        int `envconfig:"TTS_QUEUE_DEPTH" default:"8"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8000", Host: "0.0.0.0"},
		Auth:   AuthConfig{Token: "mysecrettoken123", MaxConnections: 1},
		Audio: AudioConfig{
			ChunkSizeBytes: 16000,
			SampleRate:     16000,
			SeqTolerance:   5,
			AckInterval:    4,
		},
		Storage: StorageConfig{
			TempDir:           "./temp",
			MaxSessionDiskMB:  100,
			SweepIntervalSec:  300,
			MaxImageSizeBytes: 2 * 1024 * 1024,
		},
		Session: SessionConfig{
			GraceSec:            30,
			SweepIntervalSec:    60,
			MaxRerecordAttempts: 2,
			MaxHistoryTurns:     10,
			MinTranscriptLen:    3,
		},
		Groq: GroqConfig{
			BaseURL:       "https://api.groq.com/openai/v1",
			STTModel:      "whisper-large-v3-turbo",
			LLMModel:      "meta-llama/llama-4-maverick-17b-128e-instruct",
			RetryAttempts: 3,
			TimeoutSec:    60,
			Language:      "en",
		},
		TTS: TTSConfig{
			DownloadExpirySec: 300,
			PacingDelayMs:     10,
			QueueDepth:        8,
		},
		Logging:   LogConfig{Level: "info", Development: false},
		RateLimit: RateLimitConfig{RequestsPerSecond: 100, Burst: 200, Enabled: true},
	}
}

// Validate checks configuration invariants that would otherwise surface as
// runtime failures mid-session.
func (c *Config) Validate() []error {
	var errs []error

	if c.Audio.ChunkSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE_BYTES must be > 0"))
	} else if c.Audio.ChunkSizeBytes > 1024*1024 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE_BYTES %d exceeds 1MB", c.Audio.ChunkSizeBytes))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("SAMPLE_RATE must be > 0"))
	}
	if c.Auth.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONNECTIONS must be >= 1"))
	}
	if c.Groq.APIKey == "" {
		errs = append(errs, fmt.Errorf("GROQ_API_KEY is not set"))
	}

	if err := os.MkdirAll(c.Storage.TempDir, 0o755); err != nil {
		errs = append(errs, fmt.Errorf("cannot create temp directory %s: %w", c.Storage.TempDir, err))
	} else {
		probe := filepath.Join(c.Storage.TempDir, ".write_test")
		if err := os.WriteFile(probe, []byte("test"), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("temp directory %s is not writable: %w", c.Storage.TempDir, err))
		} else {
			os.Remove(probe)
		}
	}

	return errs
}

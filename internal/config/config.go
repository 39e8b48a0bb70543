// Package config loads and validates the TOML configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Session   SessionConfig   `toml:"session"`
	Transport TransportConfig `toml:"transport"`
	Audio     AudioConfig     `toml:"audio"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig configures the local observer HTTP API.
type ServerConfig struct {
	Addr               string   `toml:"addr"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// SessionConfig configures how sessions are reached.
type SessionConfig struct {
	// WSURLTemplate and PollURLTemplate take the session ID via %s.
	WSURLTemplate   string  `toml:"ws_url_template"`
	PollURLTemplate string  `toml:"poll_url_template"`
	PollIntervalMS  int     `toml:"poll_interval_ms"`
	PollTimeoutSec  int     `toml:"poll_timeout_sec"`
	DefaultBetSize  float64 `toml:"default_bet_size"`
	TranscriptCap   int     `toml:"transcript_cap"`
}

// TransportConfig configures the push channel's retry behavior.
type TransportConfig struct {
	RetryIntervalMS     int `toml:"retry_interval_ms"`
	MaxAttempts         int `toml:"max_attempts"`
	HandshakeTimeoutSec int `toml:"handshake_timeout_sec"`
}

// AudioConfig configures the capture and playback pipelines.
type AudioConfig struct {
	SampleRate    int  `toml:"sample_rate"`
	PacketSamples int  `toml:"packet_samples"`
	JitterDelayMS int  `toml:"jitter_delay_ms"`
	LowLatency    bool `toml:"low_latency"`
}

// StorageConfig configures session history persistence.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Session: SessionConfig{
			PollIntervalMS: 3000,
			PollTimeoutSec: 10,
			DefaultBetSize: 100,
			TranscriptCap:  500,
		},
		Transport: TransportConfig{
			RetryIntervalMS:     2000,
			MaxAttempts:         15,
			HandshakeTimeoutSec: 10,
		},
		Audio: AudioConfig{
			SampleRate:    8000,
			PacketSamples: 256,
			JitterDelayMS: 50,
			LowLatency:    true,
		},
		Storage: StorageConfig{
			SQLitePath: "earshot.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the configuration file at path, applying defaults for
// anything it omits.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Session.WSURLTemplate == "" {
		return fmt.Errorf("session.ws_url_template is required")
	}
	if c.Session.PollURLTemplate == "" {
		return fmt.Errorf("session.poll_url_template is required")
	}
	if c.Transport.MaxAttempts <= 0 {
		return fmt.Errorf("transport.max_attempts must be positive")
	}
	if c.Transport.RetryIntervalMS <= 0 {
		return fmt.Errorf("transport.retry_interval_ms must be positive")
	}
	if c.Audio.SampleRate != 8000 {
		return fmt.Errorf("audio.sample_rate must be 8000 (telephony path is fixed-rate)")
	}
	if c.Audio.PacketSamples <= 0 {
		return fmt.Errorf("audio.packet_samples must be positive")
	}
	if c.Audio.JitterDelayMS < 0 {
		return fmt.Errorf("audio.jitter_delay_ms must not be negative")
	}
	if c.Session.PollIntervalMS <= 0 {
		return fmt.Errorf("session.poll_interval_ms must be positive")
	}
	return nil
}

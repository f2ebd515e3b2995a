package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the voxrelay configuration
type Config struct {
	Upstream   UpstreamConfig   `json:"upstream" mapstructure:"upstream"`
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Recordings RecordingsConfig `json:"recordings" mapstructure:"recordings"`
	Chat       ChatConfig       `json:"chat" mapstructure:"chat"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	Tracing    TracingConfig    `json:"tracing" mapstructure:"tracing"`

	// Data directory for the PID file and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// UpstreamConfig describes the realtime speech service
type UpstreamConfig struct {
	URL                string        `json:"url" mapstructure:"url"`
	Model              string        `json:"model" mapstructure:"model"`
	APIKey             string        `json:"api_key" mapstructure:"api_key"`
	Voice              string        `json:"voice" mapstructure:"voice"`
	Instructions       string        `json:"instructions" mapstructure:"instructions"`
	InstructionsFile   string        `json:"instructions_file" mapstructure:"instructions_file"`
	VADThreshold       float64       `json:"vad_threshold" mapstructure:"vad_threshold"`
	TranscriptionModel string        `json:"transcription_model" mapstructure:"transcription_model"`
	HandshakeTimeout   time.Duration `json:"handshake_timeout" mapstructure:"handshake_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// ServerConfig holds the browser-facing HTTP server settings
type ServerConfig struct {
	Host           string `json:"host" mapstructure:"host"`
	Port           int    `json:"port" mapstructure:"port"`
	SessionSecret  string `json:"session_secret" mapstructure:"session_secret"`
	Username       string `json:"username" mapstructure:"username"`
	Password       string `json:"password" mapstructure:"password"`
	LoginRateLimit int    `json:"login_rate_limit" mapstructure:"login_rate_limit"` // attempts per minute
	PushBuffer     int    `json:"push_buffer" mapstructure:"push_buffer"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RecordingsConfig controls where recordings go and how long they stay
type RecordingsConfig struct {
	Dir             string        `json:"dir" mapstructure:"dir"`
	Retention       time.Duration `json:"retention" mapstructure:"retention"` // 0 keeps everything
	CleanupSchedule string        `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// ChatConfig holds the text chat settings
type ChatConfig struct {
	Model   string `json:"model" mapstructure:"model"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig controls the OpenTelemetry tracer provider
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			URL:                "wss://api.openai.com/v1/realtime",
			Model:              "gpt-4o-realtime-preview-2024-10-01",
			Voice:              "alloy",
			Instructions:       "You are a helpful voice assistant. Keep answers short and conversational.",
			VADThreshold:       0.5,
			TranscriptionModel: "whisper-1",
			HandshakeTimeout:   5 * time.Second,
			WriteTimeout:       5 * time.Second,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			LoginRateLimit: 10,
			PushBuffer:     256,
		},
		Recordings: RecordingsConfig{
			Dir:             "static/recordings",
			Retention:       0,
			CleanupSchedule: "@hourly",
		},
		Chat: ChatConfig{
			Model: "gpt-4o-mini",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   50,
			MaxAge:    14,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	masked := *c
	masked.Upstream.APIKey = mask(c.Upstream.APIKey)
	masked.Server.Password = mask(c.Server.Password)
	masked.Server.SessionSecret = mask(c.Server.SessionSecret)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateAPIKey(c.Upstream.APIKey); err != nil {
		return err
	}
	if err := v.ValidateUpstreamURL(c.Upstream.URL); err != nil {
		return err
	}
	if c.Upstream.Model == "" {
		return fmt.Errorf("upstream model is required")
	}
	if c.Upstream.VADThreshold < 0 || c.Upstream.VADThreshold > 1 {
		return fmt.Errorf("upstream vad_threshold must be within [0,1], got %v", c.Upstream.VADThreshold)
	}
	if c.Upstream.HandshakeTimeout < 0 || c.Upstream.WriteTimeout < 0 {
		return fmt.Errorf("upstream timeouts cannot be negative")
	}
	if err := v.ValidatePort(c.Server.Port); err != nil {
		return err
	}
	if c.Server.LoginRateLimit < 0 {
		return fmt.Errorf("server login_rate_limit cannot be negative")
	}
	if c.Recordings.Dir == "" {
		return fmt.Errorf("recordings dir is required")
	}
	if c.Recordings.Retention < 0 {
		return fmt.Errorf("recordings retention cannot be negative")
	}
	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

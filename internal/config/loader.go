package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. VOXRELAY_SERVER_PORT.
const EnvPrefix = "VOXRELAY"

// legacyEnv maps config keys to the environment names older deployments used.
var legacyEnv = map[string]string{
	"upstream.api_key":      "OPENAI_API_KEY",
	"upstream.model":        "MODEL",
	"upstream.instructions": "INSTRUCTIONS",
	"server.username":       "MON_USERNAME",
	"server.password":       "PASSWORD",
	"server.session_secret": "FLASK_SECRET_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader. An empty path means the default location.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile sets the dotenv file read before the environment is consulted.
// An empty path disables dotenv loading.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load reads the dotenv file, the config file and the environment, in that
// order of increasing precedence. A missing config file yields defaults.
func (l *Loader) Load() (*Config, error) {
	if err := LoadDotEnv(l.envFile); err != nil {
		return nil, err
	}

	configPath, err := l.path()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v, DefaultConfig())
	bindEnv(v)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "voxrelay.log")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("upstream.url", d.Upstream.URL)
	v.SetDefault("upstream.model", d.Upstream.Model)
	v.SetDefault("upstream.api_key", d.Upstream.APIKey)
	v.SetDefault("upstream.voice", d.Upstream.Voice)
	v.SetDefault("upstream.instructions", d.Upstream.Instructions)
	v.SetDefault("upstream.instructions_file", d.Upstream.InstructionsFile)
	v.SetDefault("upstream.vad_threshold", d.Upstream.VADThreshold)
	v.SetDefault("upstream.transcription_model", d.Upstream.TranscriptionModel)
	v.SetDefault("upstream.handshake_timeout", d.Upstream.HandshakeTimeout)
	v.SetDefault("upstream.write_timeout", d.Upstream.WriteTimeout)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.session_secret", d.Server.SessionSecret)
	v.SetDefault("server.username", d.Server.Username)
	v.SetDefault("server.password", d.Server.Password)
	v.SetDefault("server.login_rate_limit", d.Server.LoginRateLimit)
	v.SetDefault("server.push_buffer", d.Server.PushBuffer)

	v.SetDefault("recordings.dir", d.Recordings.Dir)
	v.SetDefault("recordings.retention", d.Recordings.Retention)
	v.SetDefault("recordings.cleanup_schedule", d.Recordings.CleanupSchedule)

	v.SetDefault("chat.model", d.Chat.Model)
	v.SetDefault("chat.base_url", d.Chat.BaseURL)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)

	v.SetDefault("data_dir", d.DataDir)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		// The prefixed name is listed first so it wins over the alias.
		_ = v.BindEnv(key, envName(key), legacy)
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadDotEnv copies variables from a dotenv file into the process
// environment. Variables that are already set are left alone and a missing
// file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open env file: %w", err)
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		return fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	for key, value := range env {
		if _, present := os.LookupEnv(key); present {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// Save writes cfg to the loader's path as indented JSON.
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := encode(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// encode renders cfg as JSON with durations in their string form, the same
// form Load accepts.
func encode(cfg *Config) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	upstream := tree["upstream"].(map[string]any)
	upstream["handshake_timeout"] = cfg.Upstream.HandshakeTimeout.String()
	upstream["write_timeout"] = cfg.Upstream.WriteTimeout.String()
	recordings := tree["recordings"].(map[string]any)
	recordings["retention"] = cfg.Recordings.Retention.String()

	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".voxrelay", "voxrelay.json"), nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	p, _ := l.path()
	return p
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for scenepilot.
//
// NOTE: This file may contain a provider API key. Always keep it chmod 0600.
type Config struct {
	// Provider is "openai" or "anthropic".
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// APIKey, when empty, falls back to APIKeyEnv at startup.
	APIKey    string `json:"api_key,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`

	// MaxAutoContinues caps extra turns beyond the first. nil means the
	// built-in default.
	MaxAutoContinues *int `json:"max_auto_continues,omitempty"`

	// Streaming selects the chunked model path for live UI progress.
	Streaming bool `json:"streaming,omitempty"`

	// RangeTablePath optionally points at a YAML guard-rail range table for
	// hosts with different spatial conventions.
	RangeTablePath string `json:"range_table_path,omitempty"`

	// TranscriptPath is the SQLite transcript location. If empty, the agent
	// picks a default under the config directory.
	TranscriptPath string `json:"transcript_path,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "openai", "anthropic":
	case "":
		return errors.New("missing provider")
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("missing model")
	}
	if strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.APIKeyEnv) == "" {
		return errors.New("missing api_key or api_key_env")
	}
	if c.MaxAutoContinues != nil && *c.MaxAutoContinues < 0 {
		return errors.New("max_auto_continues must be >= 0")
	}
	return nil
}

// ResolveAPIKey returns the configured key, consulting the environment when
// only api_key_env is set.
func (c *Config) ResolveAPIKey() (string, error) {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key, nil
	}
	env := strings.TrimSpace(c.APIKeyEnv)
	if env == "" {
		return "", errors.New("no api key configured")
	}
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		return "", fmt.Errorf("environment variable %s is empty", env)
	}
	return key, nil
}

// DefaultConfigPath returns the default config path:
//
//	~/.scenepilot/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "scenepilot.config.json"
	}
	return filepath.Join(home, ".scenepilot", "config.json")
}

// DefaultTranscriptPath returns the default transcript DB path next to the
// config file.
func DefaultTranscriptPath(cfgPath string) string {
	return filepath.Join(filepath.Dir(cfgPath), "transcript.db")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o600)
}

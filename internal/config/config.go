// Package config loads skein's configuration from config.yaml with
// defaults and environment fallbacks.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Provider string `mapstructure:"provider"`

	// MaxTurns caps the tool-calling loop per generation.
	MaxTurns        int `mapstructure:"max_turns"`
	MaxOutputTokens int `mapstructure:"max_output_tokens"`

	// AutoApprove skips the permission gate entirely. Dangerous; a warning
	// is printed when enabled on an interactive terminal.
	AutoApprove bool `mapstructure:"auto_approve"`

	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetDefault("provider", "anthropic")
	viper.SetDefault("max_turns", 100)
	viper.SetDefault("max_output_tokens", 8192)
	viper.SetDefault("sessions.enabled", true)
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")

	// Read config file (optional - won't error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveAnthropicCredentials(&cfg.Anthropic)
	return &cfg, nil
}

// ApplyOverrides applies provider and model overrides to the config.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "anthropic":
			c.Anthropic.Model = model
		}
	}
}

func resolveAnthropicCredentials(cfg *AnthropicConfig) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// expandEnv resolves "$VAR" and "${VAR}" config values.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for skein.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "skein"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "skein"), nil
}

// GetConfigPath returns the path where the config file should be located.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultDataDir = ".grcgate"
	ConfigFileName = "grcgate.yaml"
	EnvPrefix      = "GRCGATE"
)

// envOverrides are the scalar settings that can be set through GRCGATE_* variables,
// e.g. GRCGATE_PRIVACY_MASKING_LEVEL=strict
var envOverrides = []string{
	"listen",
	"data-dir",
	"api-key",
	"enable-mcp",
	"logging.level",
	"logging.json-format",
	"logging.enable-file",
	"privacy.masking-level",
	"privacy.enable-tokenization",
	"tenant.session-secret",
	"tenant.rules-file",
	"signing.key",
	"audit.store",
	"audit.redis.addr",
	"tokenizer.enabled",
}

// Load reads configuration from configPath (JSON, YAML or TOML by extension),
// falls back to ~/.grcgate/grcgate.yaml when configPath is empty, applies
// GRCGATE_* environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := setupViper()

	cfg := DefaultConfig()

	if configPath == "" {
		if found, ok := findConfigFile(); ok {
			configPath = found
		}
	}
	if configPath != "" {
		if err := loadConfigFile(v, configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := applyEnvOverrides(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViper configures viper with environment variable handling
func setupViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for _, key := range envOverrides {
		_ = v.BindEnv(key)
	}
	return v
}

// findConfigFile tries to find a config file in common locations
func findConfigFile() (string, bool) {
	locations := []string{
		ConfigFileName,
		"grcgate.json",
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations,
			filepath.Join(homeDir, DefaultDataDir, ConfigFileName),
			filepath.Join(homeDir, DefaultDataDir, "grcgate.json"))
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location, true
		}
	}
	return "", false
}

// loadConfigFile lets viper parse the file and then decodes the generic tree
// through encoding/json so Duration and other custom types see their JSON form.
func loadConfigFile(v *viper.Viper, path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	// Empty file (including /dev/null) is treated as no configuration
	if info.Size() == 0 {
		return nil
	}

	v.SetConfigFile(path)
	if strings.EqualFold(filepath.Ext(path), ".yml") {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	data, err := json.Marshal(normalizeKeys(v.AllSettings()))
	if err != nil {
		return fmt.Errorf("failed to re-encode config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// normalizeKeys maps kebab-case keys onto the snake_case json tags
func normalizeKeys(in any) any {
	switch t := in.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[strings.ReplaceAll(k, "-", "_")] = normalizeKeys(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeKeys(item)
		}
		return out
	default:
		return in
	}
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) error {
	overrides := make(map[string]any)
	for _, key := range envOverrides {
		if _, ok := os.LookupEnv(envName(key)); !ok {
			continue
		}
		setNested(overrides, strings.Split(strings.ReplaceAll(key, "-", "_"), "."), coerce(v.GetString(key)))
	}
	if len(overrides) == 0 {
		return nil
	}
	data, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func envName(key string) string {
	r := strings.NewReplacer("-", "_", ".", "_")
	return EnvPrefix + "_" + strings.ToUpper(r.Replace(key))
}

func setNested(m map[string]any, path []string, value any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

func coerce(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// SaveConfig writes configuration as indented JSON
func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

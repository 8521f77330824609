package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config represents the playground service configuration
type Config struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Server      Server    `json:"server"`
	Bundler     Bundler   `json:"bundler"`
	Session     Session   `json:"session"`
	Workspace   Workspace `json:"workspace"`
	Live        Live      `json:"live"`
	Logging     Logging   `json:"logging"`
}

// Server represents the HTTP server configuration
type Server struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Debug bool   `json:"debug"`
}

// Bundler configures the upstream module bundling endpoint.
type Bundler struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	CacheEntries   int    `json:"cache_entries"`
}

// Session configures editor session behavior.
type Session struct {
	DebounceMillis   int    `json:"debounce_millis"`
	MaxImportRetries int    `json:"max_import_retries"`
	GlobalTypesPath  string `json:"global_types_path"`
}

// Workspace configures the optional local workspace bridge.
type Workspace struct {
	Path           string `json:"path"`
	Watch          bool   `json:"watch"`
	DebounceMillis int    `json:"debounce_millis"`
}

// Live document store modes.
const (
	LiveModeMemory = "memory"
	LiveModeCollab = "collab"
)

// Live configures the collaborative document store.
type Live struct {
	Mode                string `json:"mode"`
	SyncIntervalSeconds int    `json:"sync_interval_seconds"`
}

// Logging represents logging configuration
type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return &Config{
		Name:        "scriptpad-go",
		Version:     "0.1.0",
		Description: "Editor session synchronization service for the scriptpad playground",
		Server: Server{
			Host:  "localhost",
			Port:  9440,
			Debug: false,
		},
		Bundler: Bundler{
			BaseURL:        "https://bundle.scriptpad.dev",
			TimeoutSeconds: 20,
			CacheEntries:   256,
		},
		Session: Session{
			DebounceMillis:   250,
			MaxImportRetries: 3,
			GlobalTypesPath:  "/global.d.ts",
		},
		Workspace: Workspace{
			Path:           "",
			Watch:          false,
			DebounceMillis: 200,
		},
		Live: Live{
			Mode:                "memory",
			SyncIntervalSeconds: 1,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Path:   filepath.Join(home, ".scriptpad", "logs", "scriptpad.log"),
		},
	}
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Environment variables take priority over file contents.
	applyEnvOverrides(cfg)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if portStr := os.Getenv("SCRIPTPAD_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Server.Port = port
		} else {
			log.Printf("warning: ignoring invalid SCRIPTPAD_PORT value %q: %v", portStr, err)
		}
	}

	if host := os.Getenv("SCRIPTPAD_HOST"); host != "" {
		cfg.Server.Host = host
	}

	if debug := os.Getenv("SCRIPTPAD_DEBUG"); debug != "" {
		if parsed, err := strconv.ParseBool(debug); err == nil {
			cfg.Server.Debug = parsed
		} else {
			log.Printf("warning: ignoring invalid SCRIPTPAD_DEBUG value %q: %v", debug, err)
		}
	}

	if logLevel := os.Getenv("SCRIPTPAD_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if logPath := os.Getenv("SCRIPTPAD_LOG_PATH"); logPath != "" {
		cfg.Logging.Path = logPath
	}

	if bundlerURL := os.Getenv("SCRIPTPAD_BUNDLER_URL"); bundlerURL != "" {
		cfg.Bundler.BaseURL = bundlerURL
	}

	if workspacePath := os.Getenv("SCRIPTPAD_WORKSPACE_PATH"); workspacePath != "" {
		cfg.Workspace.Path = workspacePath
		cfg.Workspace.Watch = true
	}

	if liveMode := os.Getenv("SCRIPTPAD_LIVE_MODE"); liveMode != "" {
		cfg.Live.Mode = liveMode
	}
}

// Normalize canonicalizes config values so downstream validation and
// runtime logic operate on stable representations.
func (c *Config) Normalize() {
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	c.Bundler.BaseURL = strings.TrimRight(strings.TrimSpace(c.Bundler.BaseURL), "/")
	c.Session.GlobalTypesPath = strings.TrimSpace(c.Session.GlobalTypesPath)
	c.Workspace.Path = strings.TrimSpace(c.Workspace.Path)
	c.Live.Mode = strings.ToLower(strings.TrimSpace(c.Live.Mode))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Path = strings.TrimSpace(c.Logging.Path)

	if c.Session.DebounceMillis == 0 {
		c.Session.DebounceMillis = 250
	}
	if c.Session.MaxImportRetries == 0 {
		c.Session.MaxImportRetries = 3
	}
	if c.Session.GlobalTypesPath == "" {
		c.Session.GlobalTypesPath = "/global.d.ts"
	}
	if c.Workspace.DebounceMillis == 0 {
		c.Workspace.DebounceMillis = 200
	}
	if c.Live.Mode == "" {
		c.Live.Mode = LiveModeMemory
	}
	if c.Live.SyncIntervalSeconds == 0 {
		c.Live.SyncIntervalSeconds = 1
	}
	if c.Bundler.TimeoutSeconds == 0 {
		c.Bundler.TimeoutSeconds = 20
	}
	if c.Bundler.CacheEntries == 0 {
		c.Bundler.CacheEntries = 256
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid port number")
	}
	if c.Server.Host == "" {
		return errors.New("host cannot be empty")
	}

	if c.Bundler.BaseURL == "" {
		return errors.New("bundler base url cannot be empty")
	}
	if !strings.HasPrefix(c.Bundler.BaseURL, "http://") && !strings.HasPrefix(c.Bundler.BaseURL, "https://") {
		return fmt.Errorf("invalid bundler base url %q: expected http(s) scheme", c.Bundler.BaseURL)
	}
	if c.Bundler.TimeoutSeconds < 1 || c.Bundler.TimeoutSeconds > 120 {
		return fmt.Errorf("invalid bundler timeout seconds %d: expected range 1..120", c.Bundler.TimeoutSeconds)
	}

	if c.Session.DebounceMillis < 10 || c.Session.DebounceMillis > 5000 {
		return fmt.Errorf("invalid session debounce millis %d: expected range 10..5000", c.Session.DebounceMillis)
	}
	if c.Session.MaxImportRetries < 1 || c.Session.MaxImportRetries > 10 {
		return fmt.Errorf("invalid max import retries %d: expected range 1..10", c.Session.MaxImportRetries)
	}

	validLiveModes := map[string]bool{
		LiveModeMemory: true,
		LiveModeCollab: true,
	}
	if !validLiveModes[c.Live.Mode] {
		return fmt.Errorf("invalid live mode %q: expected one of [memory collab]", c.Live.Mode)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.New("invalid log level")
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.New("invalid log format")
	}

	if c.Logging.Path == "" {
		return errors.New("log path cannot be empty")
	}

	if c.Workspace.Watch && c.Workspace.Path == "" {
		return errors.New("workspace watch enabled without a workspace path")
	}

	return nil
}

// ResolveConfigPath returns the path that should be used for configuration.
func ResolveConfigPath() (string, error) {
	// First check environment variable
	if path := strings.TrimSpace(os.Getenv("SCRIPTPAD_CONFIG_PATH")); path != "" {
		return path, nil
	}

	// Then check config/scriptpad.json in current directory
	if _, err := os.Stat("config/scriptpad.json"); err == nil {
		return "config/scriptpad.json", nil
	}

	// Finally check home directory
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".scriptpad", "config", "scriptpad.json"), nil
}

// EnsureDefaultConfig creates a default config file if one does not exist.
func EnsureDefaultConfig(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path cannot be empty")
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := NewConfig()
	defaultConfig.Normalize()
	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

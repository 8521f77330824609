package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Name != "scriptpad-go" {
		t.Errorf("Expected name 'scriptpad-go', got '%s'", cfg.Name)
	}

	if cfg.Server.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Server.Host)
	}

	if cfg.Server.Port != 9440 {
		t.Errorf("Expected port 9440, got %d", cfg.Server.Port)
	}

	if cfg.Session.DebounceMillis != 250 {
		t.Errorf("Expected debounce 250ms, got %d", cfg.Session.DebounceMillis)
	}

	if cfg.Session.MaxImportRetries != 3 {
		t.Errorf("Expected 3 import retries, got %d", cfg.Session.MaxImportRetries)
	}

	if cfg.Live.Mode != "memory" {
		t.Errorf("Expected live mode 'memory', got '%s'", cfg.Live.Mode)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.json")

	testConfig := `{
		"name": "test-playground",
		"version": "1.0.0",
		"server": {
			"host": "127.0.0.1",
			"port": 8080,
			"debug": true
		},
		"bundler": {
			"base_url": "https://bundler.example.com/"
		},
		"live": {
			"mode": "collab"
		},
		"logging": {
			"level": "DEBUG",
			"format": "text",
			"path": "` + filepath.ToSlash(filepath.Join(tempDir, "test.log")) + `"
		}
	}`

	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Name != "test-playground" {
		t.Errorf("Expected name 'test-playground', got '%s'", cfg.Name)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}

	// Normalize lowercases the level and strips the trailing slash.
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level 'debug', got '%s'", cfg.Logging.Level)
	}

	if cfg.Bundler.BaseURL != "https://bundler.example.com" {
		t.Errorf("Expected trimmed bundler url, got '%s'", cfg.Bundler.BaseURL)
	}

	if cfg.Live.Mode != "collab" {
		t.Errorf("Expected live mode 'collab', got '%s'", cfg.Live.Mode)
	}

	// Defaults survive a partial file.
	if cfg.Session.DebounceMillis != 250 {
		t.Errorf("Expected default debounce, got %d", cfg.Session.DebounceMillis)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty host", func(c *Config) { c.Server.Host = "" }},
		{"bad bundler scheme", func(c *Config) { c.Bundler.BaseURL = "ftp://x" }},
		{"bad live mode", func(c *Config) { c.Live.Mode = "gossip" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad debounce", func(c *Config) { c.Session.DebounceMillis = 9 }},
		{"watch without path", func(c *Config) { c.Workspace.Watch = true; c.Workspace.Path = "" }},
	}

	for _, tc := range cases {
		cfg := NewConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	if err := EnsureDefaultConfig(configPath); err != nil {
		t.Fatalf("Failed to write default config: %v", err)
	}

	t.Setenv("SCRIPTPAD_PORT", "7777")
	t.Setenv("SCRIPTPAD_BUNDLER_URL", "http://localhost:9999")
	t.Setenv("SCRIPTPAD_WORKSPACE_PATH", tempDir)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Expected env override port 7777, got %d", cfg.Server.Port)
	}
	if cfg.Bundler.BaseURL != "http://localhost:9999" {
		t.Errorf("Expected env override bundler url, got '%s'", cfg.Bundler.BaseURL)
	}
	if !cfg.Workspace.Watch {
		t.Error("Expected workspace watch to be enabled by env path override")
	}
}

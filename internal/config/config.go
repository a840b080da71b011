// Package config provides YAML-based configuration for the agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration structure.
type AppConfig struct {
	CRM     CRMConfig     `yaml:"crm"`
	Watch   WatchConfig   `yaml:"watch"`
	Browser BrowserConfig `yaml:"browser"`
	Server  ServerConfig  `yaml:"server"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// CRMConfig carries the CRM endpoint and account.
type CRMConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	StoreID  string `yaml:"store_id"`

	// InspectorName goes into the mandatory examiner field of every
	// submitted report.
	InspectorName string `yaml:"inspector_name"`
}

// WatchConfig controls the export intake.
type WatchConfig struct {
	Folder              string `yaml:"folder"`
	Extension           string `yaml:"extension"`
	DebounceMillis      int    `yaml:"debounce_ms"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// BrowserConfig controls the automation browser.
type BrowserConfig struct {
	Headless           bool `yaml:"headless"`
	StepTimeoutSeconds int  `yaml:"step_timeout_seconds"`
	SettleSeconds      int  `yaml:"settle_seconds"`
	NavRetries         int  `yaml:"nav_retries"`
}

// ServerConfig contains the local control API settings.
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// HistoryConfig locates the persistent state files.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file exists yet.
func Default() *AppConfig {
	return &AppConfig{
		CRM: CRMConfig{
			URL: "https://crm.example.com/login",
		},
		Watch: WatchConfig{
			Folder:              "exports",
			Extension:           ".xml",
			DebounceMillis:      1000,
			PollIntervalSeconds: 10,
		},
		Browser: BrowserConfig{
			Headless:           false,
			StepTimeoutSeconds: 10,
			SettleSeconds:      3,
			NavRetries:         3,
		},
		Server: ServerConfig{
			BindAddress: "127.0.0.1",
			Port:        8192,
		},
		History: HistoryConfig{
			DatabasePath: "state/runs.duckdb",
			SnapshotPath: "state/history.msgpack",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration from a YAML file. A missing file is
// created with defaults so the operator has something to edit.
func Load(configPath string) (*AppConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		cfg.applyEnvironmentOverrides()
		cfg.resolvePaths(filepath.Dir(configPath))
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.resolvePaths(filepath.Dir(configPath))
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	header := []byte("# NOAH export agent configuration\n# This file is auto-generated on first run\n\n")
	if err := os.WriteFile(configPath, append(header, output...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides lets environment variables override file
// values, mainly so credentials can stay out of the config file.
func (c *AppConfig) applyEnvironmentOverrides() {
	if v := os.Getenv("NOAHFLOW_CRM_URL"); v != "" {
		c.CRM.URL = v
	}
	if v := os.Getenv("NOAHFLOW_CRM_USERNAME"); v != "" {
		c.CRM.Username = v
	}
	if v := os.Getenv("NOAHFLOW_CRM_PASSWORD"); v != "" {
		c.CRM.Password = v
	}
	if v := os.Getenv("NOAHFLOW_CRM_STORE"); v != "" {
		c.CRM.StoreID = v
	}
	if v := os.Getenv("NOAHFLOW_WATCH_FOLDER"); v != "" {
		c.Watch.Folder = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

// resolvePaths converts relative paths to absolute based on the config
// file location.
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Watch.Folder) {
		c.Watch.Folder = filepath.Join(configDir, c.Watch.Folder)
	}
	if !filepath.IsAbs(c.History.DatabasePath) {
		c.History.DatabasePath = filepath.Join(configDir, c.History.DatabasePath)
	}
	if !filepath.IsAbs(c.History.SnapshotPath) {
		c.History.SnapshotPath = filepath.Join(configDir, c.History.SnapshotPath)
	}
}

// ServerAddr returns the control API bind address.
func (c *AppConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// Debounce returns the intake debounce window.
func (c *AppConfig) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMillis) * time.Millisecond
}

// PollInterval returns the watch folder rescan interval.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollIntervalSeconds) * time.Second
}

// EnsureDirectories creates the folders the agent writes into.
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Watch.Folder,
		filepath.Dir(c.History.DatabasePath),
		filepath.Dir(c.History.SnapshotPath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

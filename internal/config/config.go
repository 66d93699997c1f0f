package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	defaultConfigName      = "config.json"
	defaultServersDir      = "servers"
	defaultBackupsDir      = "backups"
	defaultDatabaseFile    = "manager.db"
	defaultConsolePortFrom = 26000
	defaultConsolePortTo   = 26999
	defaultMonitorSeconds  = 5
	defaultStopSeconds     = 30
	defaultReadySeconds    = 90
)

type Config struct {
	ServersPath  string `json:"servers_path"`
	BackupsPath  string `json:"backups_path"`
	DatabasePath string `json:"database_path"`

	// RemoteBackupsPath points at a mounted share for off-host backups;
	// empty disables remote storage.
	RemoteBackupsPath string `json:"remote_backups_path"`

	ConsolePortFrom int `json:"console_port_from"`
	ConsolePortTo   int `json:"console_port_to"`

	MonitorIntervalSeconds int `json:"monitor_interval_seconds"`
	StopTimeoutSeconds     int `json:"stop_timeout_seconds"`
	ReadyTimeoutSeconds    int `json:"ready_timeout_seconds"`
}

func LoadConfig(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, defaultConfigName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return createDefaultConfig(configPath, configDir)
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults(configDir)

	return &cfg, nil
}

func (c *Config) applyDefaults(configDir string) {
	if c.ServersPath == "" {
		c.ServersPath = filepath.Join(configDir, defaultServersDir)
	}
	if c.BackupsPath == "" {
		c.BackupsPath = filepath.Join(configDir, defaultBackupsDir)
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(configDir, defaultDatabaseFile)
	}
	if c.ConsolePortFrom == 0 {
		c.ConsolePortFrom = defaultConsolePortFrom
	}
	if c.ConsolePortTo == 0 {
		c.ConsolePortTo = defaultConsolePortTo
	}
	if c.MonitorIntervalSeconds == 0 {
		c.MonitorIntervalSeconds = defaultMonitorSeconds
	}
	if c.StopTimeoutSeconds == 0 {
		c.StopTimeoutSeconds = defaultStopSeconds
	}
	if c.ReadyTimeoutSeconds == 0 {
		c.ReadyTimeoutSeconds = defaultReadySeconds
	}
}

func createDefaultConfig(configPath, configDir string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults(configDir)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return nil, err
	}

	return cfg, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything a node needs to run. Values come from the JSON
// config file with MESHCHAT_* environment variables layered on top.
type Config struct {
	Host          string `env:"MESHCHAT_HOST"           json:"host"`
	Port          int    `env:"MESHCHAT_PORT"           json:"port"`
	AdvertiseHost string `env:"MESHCHAT_ADVERTISE_HOST" json:"advertise_host"`
	DataDir       string `env:"MESHCHAT_DATA_DIR"       json:"data_dir"`
	MediaDir      string `env:"MESHCHAT_MEDIA_DIR"      json:"media_dir"`
	ReplayWindow  int    `env:"MESHCHAT_REPLAY_WINDOW"  json:"replay_window"`
	ConnectSec    int    `env:"MESHCHAT_CONNECT_SEC"    json:"connect_sec"`
	Debug         bool   `env:"MESHCHAT_DEBUG"          json:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:          "0.0.0.0",
		Port:          8080,
		AdvertiseHost: "127.0.0.1",
		DataDir:       "~/.meshchat",
		MediaDir:      "media",
		ReplayWindow:  32,
		ConnectSec:    10,
	}
}

// LoadConfig reads path (missing file is fine, defaults apply) and then
// parses the environment overlay.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ConnectTimeout is how long ConnectToNetwork waits for the remote peer's
// open event.
func (c *Config) ConnectTimeout() time.Duration {
	if c.ConnectSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ConnectSec) * time.Second
}

// DataPath resolves DataDir, expanding a leading ~.
func (c *Config) DataPath() string {
	return expandHome(c.DataDir)
}

// MediaPath resolves MediaDir; a relative path lives under DataDir.
func (c *Config) MediaPath() string {
	dir := expandHome(c.MediaDir)
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.DataPath(), dir)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

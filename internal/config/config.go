package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the CLI's optional on-disk configuration. Every field is
// optional — command-line flags always take precedence over a loaded value.
type Config struct {
	DefaultDrive string `toml:"default_drive"`
	CacheDir     string `toml:"cache_dir"`
	TokenPath    string `toml:"token_path"`
	LogLevel     string `toml:"log_level"`
}

// Load reads and parses the TOML config file at path. A missing file is not
// an error — it returns the zero Config so callers fall back to defaults.
func Load(path string) (Config, error) {
	var cfg Config

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}

	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

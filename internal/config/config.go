package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultStorageDir = "dd_analysis"

type Config struct {
	Exclude        []string      `yaml:"exclude"`
	StorageDir     string        `yaml:"storage_dir"`
	Workers        int           `yaml:"workers"`
	Exhaustive     bool          `yaml:"exhaustive"`
	PrescanTimeout time.Duration `yaml:"prescan_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Exclude: []string{
			".git/",
			".svn/",
			".hg/",
			".DS_Store",
			"Thumbs.db",
		},
		StorageDir:     DefaultStorageDir,
		Workers:        runtime.NumCPU() * 2,
		PrescanTimeout: 2 * time.Second,
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Exclude = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	// Initialize Exclude slice if nil (for empty configs)
	if cfg.Exclude == nil {
		cfg.Exclude = []string{}
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = DefaultStorageDir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() * 2
	}
	if cfg.PrescanTimeout <= 0 {
		cfg.PrescanTimeout = 2 * time.Second
	}

	return cfg, nil
}

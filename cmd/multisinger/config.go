package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the multisinger user configuration file
// (~/.config/multisinger/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`

	// Synthesis defaults
	Seed      *int64 `yaml:"seed"`
	StatsPath string `yaml:"stats_path"`

	// Export
	ExportDType string `yaml:"export_dtype"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	MaxFrames     *int64 `yaml:"max_frames"`
}

func userConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "multisinger", "config.yaml")
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyModelsConfig(c *cli.Command, cfg Config) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
}

// applyVocodeConfig applies config file defaults to vocode command variables
// when the corresponding CLI flag was not explicitly set.
func applyVocodeConfig(c *cli.Command, cfg Config, seed *int64, stats *string) {
	applyModelsConfig(c, cfg)
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
	if cfg.StatsPath != "" && !c.IsSet("stats") {
		*stats = cfg.StatsPath
	}
}

func applyExportConfig(c *cli.Command, cfg Config, dtype *string) {
	applyModelsConfig(c, cfg)
	if cfg.ExportDType != "" && !c.IsSet("dtype") {
		*dtype = cfg.ExportDType
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, maxFrames, seed *int64) {
	applyModelsConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxFrames != nil && !c.IsSet("max-frames") {
		*maxFrames = *cfg.MaxFrames
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	return loadConfigFile(userConfigPath())
}

func loadConfigFile(path string) Config {
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

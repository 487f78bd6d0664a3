package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Paths         []string `yaml:"paths"`
	MinimumFreeGB int      `yaml:"minimumFreeGB"`
	SchemaVersion uint64   `yaml:"schemaVersion"`
	Compression   bool     `yaml:"compression"`
	InMemory      bool     `yaml:"inMemory"`
	// GarbageCollectionInterval in minutes, 0 disables it
	GarbageCollectionInterval int    `yaml:"garbageCollectionInterval"`
	LeafSize                  int64  `yaml:"leafSize"`
	LogLevel                  string `yaml:"logLevel"`
}

func Default() Config {
	return Config{
		Paths:                     []string{"./data"},
		GarbageCollectionInterval: 10,
		LogLevel:                  "info",
	}
}

// Load reads a YAML config file. Fields missing from the file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config %s: %w", path, err)
	}

	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	config := Default()
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}

	if len(config.Paths) == 0 && !config.InMemory {
		return Config{}, fmt.Errorf("error parsing config: no paths")
	}
	if _, err := config.Level(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("error parsing logLevel: %w", err)
	}
	return level, nil
}

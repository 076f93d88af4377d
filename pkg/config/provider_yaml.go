package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements Provider for YAML configuration files
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from the YAML file, then
// applies environment overrides and defaults.
func (y *YAMLProvider) LoadConfig() (*Config, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(cfgFile, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", y.filename, err)
	}

	config.ApplyEnv()
	config.ApplyDefaults()

	return &config, nil
}

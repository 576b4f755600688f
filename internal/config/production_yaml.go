package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"hie/internal/apperror"
)

// LoadProductionYAML reads a native YAML production definition from path.
// This is the default format (production.format: yaml); IRIS .cls/.xml
// definitions go through internal/irisxml instead.
func LoadProductionYAML(path string) (*ProductionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNotFound, "read production configuration file")
	}

	var cfg ProductionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeConfig, "parse production configuration")
	}
	return &cfg, nil
}

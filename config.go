package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadConfig overlays settings from a YAML file onto conf; keys absent
// from the file keep their current values.
func loadConfig(path string, conf *Config) error {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file: %w", err)
	}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// dumps renders the effective configuration for logging.
func (conf *Config) dumps() string {
	d, err := yaml.Marshal(conf)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(d)
}

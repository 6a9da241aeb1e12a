// Package config loads the job execution substrate's YAML
// configuration file, following the same os.ReadFile +
// yaml.Unmarshal pattern the host CLI uses for its own resource
// manifests.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
)

// Load reads and parses the YAML config at path, applying defaults to
// anything left unset.
func Load(path string) (jobtypes.Config, error) {
	cfg := jobtypes.DefaultConfig()

	if path == "" {
		cfg.Normalize()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.Normalize()
	return cfg, nil
}

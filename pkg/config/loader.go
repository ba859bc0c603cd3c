package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the settings file into a flat key/value map. Values are always
// strings at this stage; typing happens in Validate.
func Load(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	raw := make(map[string]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return raw, nil
}

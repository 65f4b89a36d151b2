package safety

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyConfig is the operator-supplied policy file.
type PolicyConfig struct {
	DeniedPatterns []Rule `yaml:"denied_patterns"`
}

// LoadPolicy reads a policy file and builds a validator whose denylist is
// the built-in list followed by the file's patterns. An empty path yields
// the default validator.
func LoadPolicy(path string) (*Validator, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy config: %w", err)
	}

	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy config: %w", err)
	}

	for i := range cfg.DeniedPatterns {
		if cfg.DeniedPatterns[i].Reason == "" {
			cfg.DeniedPatterns[i].Reason = "denied by policy"
		}
	}
	return NewValidator(cfg.DeniedPatterns...)
}

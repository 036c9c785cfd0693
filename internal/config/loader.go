package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config's shape for YAML decoding, with every
// section optional so a partial file merges over the defaults. Kept
// separate from Config itself so Config can carry unexported fields
// without a custom (Un)MarshalYAML.
type fileConfig struct {
	Store      *StoreConfig      `yaml:"store"`
	HTTP       *HTTPConfig       `yaml:"http"`
	Queue      *QueueConfig      `yaml:"queue"`
	Scheduler  *SchedulerConfig  `yaml:"scheduler"`
	Retention  *RetentionConfig  `yaml:"retention"`
	Webhooks   WebhookRegistry   `yaml:"webhooks"`
	Adapters   *AdapterConfig    `yaml:"adapters"`
	Autonomous *AutonomousConfig `yaml:"autonomous"`
}

// Load reads the YAML configuration file at path, expands environment
// variable references, merges it over Default(), and validates the
// result. A missing file is not an error: the built-in defaults alone
// are a valid configuration (every field has a workable zero-cost
// default), matching the daemon's "works out of the box" posture.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.configDir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, NewLoadError(path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &fc); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := mergeFileConfig(cfg, fc); err != nil {
		return nil, NewLoadError(path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFileConfig merges each present section over cfg's built-in
// defaults using mergo.WithOverride, so a YAML file only needs to
// specify the fields it wants to change.
func mergeFileConfig(cfg *Config, fc fileConfig) error {
	if fc.Store != nil {
		if err := mergo.Merge(&cfg.Store, fc.Store, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge store config: %w", err)
		}
	}
	if fc.HTTP != nil {
		if err := mergo.Merge(&cfg.HTTP, fc.HTTP, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge http config: %w", err)
		}
	}
	if fc.Queue != nil {
		if err := mergo.Merge(&cfg.Queue, fc.Queue, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge queue config: %w", err)
		}
	}
	if fc.Scheduler != nil {
		if err := mergo.Merge(&cfg.Scheduler, fc.Scheduler, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge scheduler config: %w", err)
		}
	}
	if fc.Retention != nil {
		if err := mergo.Merge(&cfg.Retention, fc.Retention, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge retention config: %w", err)
		}
	}
	if fc.Adapters != nil {
		if err := mergo.Merge(&cfg.Adapters, fc.Adapters, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge adapters config: %w", err)
		}
	}
	if fc.Autonomous != nil {
		if err := mergo.Merge(&cfg.Autonomous, fc.Autonomous, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge autonomous config: %w", err)
		}
	}
	for kind, rule := range fc.Webhooks {
		cfg.Webhooks[kind] = rule
	}
	return nil
}

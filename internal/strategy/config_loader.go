package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads straddle configs from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	for i := range file.Strategies {
		file.Strategies[i].Normalize()
		if err := file.Strategies[i].Validate(); err != nil {
			return nil, fmt.Errorf("strategy %d: %w", i, err)
		}
	}
	return file.Strategies, nil
}

// SyncConfigToStore upserts seed configs. Exit state already stored is preserved.
func SyncConfigToStore(ctx context.Context, store *Store, configs []Config) error {
	var errs []error
	for _, cfg := range configs {
		if err := store.Upsert(ctx, cfg); err != nil {
			errs = append(errs, fmt.Errorf("failed to upsert strategy %s: %w", cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}

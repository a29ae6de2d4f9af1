package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blueprint-ai/layout-worker/internal/errors"
	"github.com/blueprint-ai/layout-worker/internal/regions"
)

// LoadThresholds reads classifier thresholds from a YAML file. Keys missing
// from the file keep their default value.
//
//	edgeMargin: 40
//	sidebarMaxWidth: 360
func LoadThresholds(path string) (regions.Thresholds, error) {
	th := regions.DefaultThresholds()

	data, err := os.ReadFile(path)
	if err != nil {
		return th, fmt.Errorf("read classifier config: %w", err)
	}

	if err := yaml.Unmarshal(data, &th); err != nil {
		return th, errors.NewInvalidConfigError("classifier config", err.Error())
	}

	if err := th.Validate(); err != nil {
		return th, errors.NewInvalidConfigError("classifier config", err.Error())
	}

	return th, nil
}

package calibration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Save writes the model coefficients to path as YAML.
func Save(path string, m Model) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("calibration: encode model: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("calibration: write model: %w", err)
	}
	return nil
}

// Load reads coefficients previously written by Save.
func Load(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("calibration: read model: %w", err)
	}
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Model{}, fmt.Errorf("calibration: decode model: %w", err)
	}
	if m.Slope == 0 {
		return Model{}, fmt.Errorf("calibration: %s: %w", path, ErrDivisionByZero)
	}
	return m, nil
}

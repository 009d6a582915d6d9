package entity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads entity definitions from a YAML file into a registry.
// The file holds a list of definitions:
//
//	- name: User
//	  table: users
//	  columns:
//	    - {name: id, type: int, primary: true, auto: true}
//	    - {name: email, type: varchar, size: 255, unique: true}
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading entities file: %w", err)
	}

	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parsing entities file %s: %w", path, err)
	}

	registry := NewRegistry()
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("entities file %s: definition without a name", path)
		}
		registry.Register(def)
	}
	return registry, nil
}

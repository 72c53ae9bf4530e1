// Package config loads block and service configuration collections from
// an etc directory and resolves environment-variable placeholders in
// them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Collection is a set of named resource configs, keyed by id when the
// config carries one and by name otherwise.
type Collection map[string]map[string]any

// LoadCollection reads every JSON and YAML file in root/name and returns
// the parsed configs. Files that are not .json, .yaml or .yml are
// ignored.
func LoadCollection(root, name string) (Collection, error) {
	dir := filepath.Join(root, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %q: %w", name, err)
	}

	collection := make(Collection)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}

		cfg := make(map[string]any)
		switch ext {
		case ".json":
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
			}
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
			}
		}

		collection[resourceKey(entry.Name(), cfg)] = cfg
	}
	return collection, nil
}

// resourceKey keys a config by id, falling back to name, falling back to
// the file name without extension.
func resourceKey(fileName string, cfg map[string]any) string {
	if id, ok := cfg["id"].(string); ok && id != "" {
		return id
	}
	if name, ok := cfg["name"].(string); ok && name != "" {
		return name
	}
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// MergeOverrides returns base with every property in override applied on
// top of it. Neither input is mutated.
func MergeOverrides(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range override {
		merged[key] = value
	}
	return merged
}

// Package secrets holds credentials that can be rotated without a restart.
package secrets

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Keys of the credentials HarnessForge uses.
const (
	KeyLiteLLM = "litellm_master_key"
	KeyMCP     = "mcp_api_key"
)

// Loader retrieves the current secret values.
type Loader func() (map[string]string, error)

// FileLoader returns base overlaid with the flat YAML map in path. An empty
// path or a missing file yields base unchanged.
func FileLoader(path string, base map[string]string) Loader {
	return func() (map[string]string, error) {
		vals := maps.Clone(base)
		if vals == nil {
			vals = make(map[string]string)
		}
		if path == "" {
			return vals, nil
		}
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
		if errors.Is(err, os.ErrNotExist) {
			return vals, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var file map[string]string
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for k, v := range file {
			if v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// Vault holds secret values in memory and swaps them atomically on Reload.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Source returns a getter for key that always sees the latest value.
func (v *Vault) Source(key string) func() string {
	return func() string { return v.Get(key) }
}

// Reload calls the loader and swaps in the new values. On error the
// existing values are kept.
func (v *Vault) Reload() error {
	vals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = vals
	v.mu.Unlock()
	return nil
}

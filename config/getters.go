package config

import (
	"errors"
	"fmt"
)

var errNotInitialized = errors.New("configuration not initialized")

// GetString returns the raw value of key as a string, "" when it is unset.
func (c *Config) GetString(key string) string {
	if !c.Exists(key) {
		return ""
	}
	return c.k.String(key)
}

// Exists checks if a configuration key exists.
func (c *Config) Exists(key string) bool {
	if c == nil || c.k == nil {
		return false
	}
	return c.k.Exists(key)
}

// All returns all configuration as a flattened map.
func (c *Config) All() map[string]any {
	if c == nil || c.k == nil {
		return nil
	}
	return c.k.All()
}

// Set overrides one key, typically from a command-line flag, and refreshes
// the typed sections. The result is not validated.
func (c *Config) Set(key string, value any) error {
	if c == nil || c.k == nil {
		return errNotInitialized
	}
	if err := c.k.Set(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	if err := c.k.Unmarshal("", c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

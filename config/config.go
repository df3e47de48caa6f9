// Package config loads client settings from defaults, an optional YAML file
// and the environment, in increasing order of priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultFile is read when Load is called without an explicit path.
const DefaultFile = "config.yaml"

// envSections are the top-level keys environment variables may override.
var envSections = []string{"log.", "client.", "api.", "observability."}

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. YAML configuration file
// 3. Default values (lowest priority)
//
// An empty path reads DefaultFile when it exists. An explicit path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(".", env.Opt{TransformFunc: transformEnv}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	optional := path == ""
	if optional {
		path = DefaultFile
	}

	if _, err := os.Stat(path); err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// transformEnv converts UPPER_CASE to lower.case for koanf and drops
// variables outside the known sections.
func transformEnv(key, value string) (string, any) {
	key = strings.ReplaceAll(strings.ToLower(key), "_", ".")
	for _, section := range envSections {
		if strings.HasPrefix(key, section) {
			return key, value
		}
	}
	return "", nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"log.level":  "info",
		"log.pretty": false,

		"client.timeout":              "30s",
		"client.connecttimeout":       "10s",
		"client.maxredirects":         3,
		"client.useragent":            DefaultUserAgent,
		"client.contenttype":          "application/json",
		"client.retry.max":            3,
		"client.retry.initialbackoff": "1s",
		"client.retry.maxbackoff":     "10s",
		"client.ratelimit.rps":        0,
		"client.ratelimit.burst":      1,

		"api.baseurl": "https://jsonplaceholder.typicode.com",

		"observability.enabled":          false,
		"observability.service.name":     "sampleapi",
		"observability.trace.endpoint":   "",
		"observability.trace.protocol":   "http",
		"observability.trace.samplerate": 1.0,
		"observability.metrics.endpoint": "",
		"observability.metrics.protocol": "http",
		"observability.metrics.interval": "10s",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}

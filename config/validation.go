package config

import (
	"fmt"
	"net/url"
	"slices"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks every section and returns the first *ConfigError found,
// wrapped with the section name.
func Validate(cfg *Config) error {
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if err := validateClient(&cfg.Client); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	if err := validateAPI(&cfg.API); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	if err := cfg.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config: %w", err)
	}

	return nil
}

func validateLog(cfg *LogConfig) error {
	if !slices.Contains(validLogLevels, cfg.Level) {
		return invalidField("log.level", fmt.Sprintf("unknown level %q", cfg.Level), validLogLevels...)
	}
	return nil
}

// ValidateClient checks a client section on its own, for callers that build
// a ClientConfig in code instead of loading it.
func ValidateClient(cfg *ClientConfig) error {
	return validateClient(cfg)
}

func validateClient(cfg *ClientConfig) error {
	if cfg.Timeout <= 0 {
		return invalidField("client.timeout", "must be positive")
	}
	if cfg.ConnectTimeout <= 0 {
		return invalidField("client.connecttimeout", "must be positive")
	}
	if cfg.MaxRedirects < 0 {
		return invalidField("client.maxredirects", "must not be negative")
	}
	if cfg.UserAgent == "" {
		return missingField("client.useragent")
	}
	if cfg.RateLimit.RPS < 0 {
		return invalidField("client.ratelimit.rps", "must not be negative")
	}
	if cfg.RateLimit.Burst < 0 {
		return invalidField("client.ratelimit.burst", "must not be negative")
	}
	return validateRetry(&cfg.Retry)
}

func validateRetry(cfg *RetryConfig) error {
	if cfg.Max < 0 {
		return invalidField("client.retry.max", "must not be negative")
	}
	if cfg.InitialBackoff <= 0 {
		return invalidField("client.retry.initialbackoff", "must be positive")
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		return invalidField("client.retry.maxbackoff", "must not be lower than client.retry.initialbackoff")
	}
	return nil
}

func validateAPI(cfg *APIConfig) error {
	if cfg.BaseURL == "" {
		return missingField("api.baseurl")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return invalidField("api.baseurl", "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidField("api.baseurl", fmt.Sprintf("has unsupported scheme %q", u.Scheme), "http", "https")
	}
	return nil
}

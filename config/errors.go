package config

import (
	"fmt"
	"strings"
)

// Error categories of a ConfigError.
const (
	CategoryMissing = "missing"
	CategoryInvalid = "invalid"
)

// ConfigError reports one bad configuration key together with the two places
// it can be fixed: its environment variable and its config.yaml path.
//
//nolint:revive // config.ConfigError reads better than config.Error at call sites
type ConfigError struct {
	Category string
	Field    string // dotted key, e.g. "client.retry.max"
	Message  string
	// Options lists the accepted values when the key is an enumeration.
	Options []string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "config_%s: %s %s", e.Category, e.Field, e.Message)
	if len(e.Options) > 0 {
		fmt.Fprintf(&b, ", must be one of: %s", strings.Join(e.Options, ", "))
	}
	fmt.Fprintf(&b, " (%s)", e.Action())
	return b.String()
}

// EnvVar is the environment variable that overrides Field.
func (e *ConfigError) EnvVar() string {
	return strings.ToUpper(strings.ReplaceAll(e.Field, ".", "_"))
}

// Action tells the operator where to set the key.
func (e *ConfigError) Action() string {
	return fmt.Sprintf("set %s or %s in %s", e.EnvVar(), e.Field, DefaultFile)
}

func missingField(field string) *ConfigError {
	return &ConfigError{Category: CategoryMissing, Field: field, Message: "is required"}
}

func invalidField(field, message string, options ...string) *ConfigError {
	return &ConfigError{Category: CategoryInvalid, Field: field, Message: message, Options: options}
}

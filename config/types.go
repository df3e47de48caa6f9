package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/gaborage/resilient-http/observability"
)

// DefaultUserAgent identifies the client on the wire unless overridden.
const DefaultUserAgent = "resilient-http/1.0"

// Config represents the overall application configuration structure.
// The koanf instance is kept for access to keys not mapped onto the struct.
type Config struct {
	Log    LogConfig    `koanf:"log" json:"log" yaml:"log"`
	Client ClientConfig `koanf:"client" json:"client" yaml:"client"`
	API    APIConfig    `koanf:"api" json:"api" yaml:"api"`

	Observability observability.Config `koanf:"observability" json:"observability" yaml:"observability"`

	k *koanf.Koanf `json:"-" yaml:"-"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// ClientConfig holds the transport baseline applied to every attempt.
// Timeout bounds a single attempt, not the whole call. ContentType is sent
// with a request body when the caller gave none.
type ClientConfig struct {
	Timeout        time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
	ConnectTimeout time.Duration `koanf:"connecttimeout" json:"connecttimeout" yaml:"connecttimeout"`
	MaxRedirects   int           `koanf:"maxredirects" json:"maxredirects" yaml:"maxredirects"`
	UserAgent      string        `koanf:"useragent" json:"useragent" yaml:"useragent"`
	ContentType    string        `koanf:"contenttype" json:"contenttype" yaml:"contenttype"`
	Retry          RetryConfig   `koanf:"retry" json:"retry" yaml:"retry"`
	RateLimit      RateConfig    `koanf:"ratelimit" json:"ratelimit" yaml:"ratelimit"`
}

// RetryConfig holds the retry budget and backoff bounds.
type RetryConfig struct {
	Max            int           `koanf:"max" json:"max" yaml:"max"`
	InitialBackoff time.Duration `koanf:"initialbackoff" json:"initialbackoff" yaml:"initialbackoff"`
	MaxBackoff     time.Duration `koanf:"maxbackoff" json:"maxbackoff" yaml:"maxbackoff"`
}

// RateConfig caps attempts per second across all calls of one client.
// RPS 0 disables limiting.
type RateConfig struct {
	RPS   float64 `koanf:"rps" json:"rps" yaml:"rps"`
	Burst int     `koanf:"burst" json:"burst" yaml:"burst"`
}

// APIConfig holds settings of the remote API used by the sample program.
type APIConfig struct {
	BaseURL string `koanf:"baseurl" json:"baseurl" yaml:"baseurl"`
}

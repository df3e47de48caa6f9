package observability

import (
	"errors"
	"time"
)

const (
	// EndpointStdout is a special endpoint value that outputs to stdout (for local development).
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	// EnvironmentDevelopment is the default environment name.
	EnvironmentDevelopment = "development"

	defaultMetricsInterval = 10 * time.Second
	defaultExportTimeout   = 10 * time.Second
)

// Errors reported by Config.Validate and NewProvider.
var (
	ErrNilConfig             = errors.New("observability: config is nil")
	ErrMissingServiceName    = errors.New("observability: observability.service.name is required when export is enabled")
	ErrInvalidSampleRate     = errors.New("observability: observability.trace.samplerate must be within [0, 1]")
	ErrInvalidProtocol       = errors.New("observability: protocol must be http or grpc")
	ErrInvalidEndpointFormat = errors.New("observability: endpoint does not match its protocol")
)

// Config defines the configuration for exporting the client's spans and metrics.
type Config struct {
	// Enabled controls whether telemetry is exported at all.
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	Service     ServiceConfig `koanf:"service" json:"service" yaml:"service"`
	Environment string        `koanf:"environment" json:"environment" yaml:"environment"`

	Trace   TraceConfig   `koanf:"trace" json:"trace" yaml:"trace"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics" yaml:"metrics"`
}

// ServiceConfig identifies the process in exported telemetry.
type ServiceConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name"`
	Version string `koanf:"version" json:"version" yaml:"version"`
}

// TraceConfig configures span export. An empty Endpoint disables tracing.
type TraceConfig struct {
	Endpoint string `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol string `koanf:"protocol" json:"protocol" yaml:"protocol"`
	Insecure bool   `koanf:"insecure" json:"insecure" yaml:"insecure"`
	// SampleRate is the ratio of traces recorded, in [0, 1].
	SampleRate float64 `koanf:"samplerate" json:"samplerate" yaml:"samplerate"`
}

// MetricsConfig configures metric export. An empty Endpoint disables metrics.
type MetricsConfig struct {
	Endpoint string        `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol string        `koanf:"protocol" json:"protocol" yaml:"protocol"`
	Insecure bool          `koanf:"insecure" json:"insecure" yaml:"insecure"`
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval"`
}

// ApplyDefaults fills fields left empty.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}
	if c.Trace.Protocol == "" {
		c.Trace.Protocol = ProtocolHTTP
	}
	if c.Metrics.Protocol == "" {
		c.Metrics.Protocol = c.Trace.Protocol
	}
	if c.Metrics.Interval <= 0 {
		c.Metrics.Interval = defaultMetricsInterval
	}
}

// Validate checks the configuration. A disabled configuration is always valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if c.Service.Name == "" {
		return ErrMissingServiceName
	}
	if c.Trace.SampleRate < 0 || c.Trace.SampleRate > 1 {
		return ErrInvalidSampleRate
	}
	if _, err := c.Trace.target(); err != nil {
		return err
	}
	_, err := c.Metrics.target()
	return err
}

func (c TraceConfig) target() (target, error) {
	return resolveTarget("trace", c.Endpoint, c.Protocol, c.Insecure)
}

func (c MetricsConfig) target() (target, error) {
	return resolveTarget("metrics", c.Endpoint, c.Protocol, c.Insecure)
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gaborage/resilient-http/config"
	rhttp "github.com/gaborage/resilient-http/http"
	"github.com/gaborage/resilient-http/internal/sampleapi"
	"github.com/gaborage/resilient-http/logger"
	"github.com/gaborage/resilient-http/observability"
)

// RootOptions holds the flags shared by every subcommand
type RootOptions struct {
	ConfigFile string
	BaseURL    string
	LogLevel   string
}

// session is what a subcommand needs once configuration is loaded
type session struct {
	cfg     *config.Config
	log     logger.Logger
	client  rhttp.Client
	service *sampleapi.Service
	otel    observability.Provider
}

func (s *session) close() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if err := observability.Shutdown(s.otel, 0); err != nil {
		s.log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}

// NewRootCommand creates the sampleapi command tree
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	rootCmd := &cobra.Command{
		Use:   "sampleapi",
		Short: "Exercise the resilient REST client against a posts API",
		Long: `Runs GET, POST, PUT and DELETE calls against a JSONPlaceholder-style posts API
through the resilient REST client, retrying transient failures with backoff.

Configuration is read from config.yaml (or --config) and environment variables
such as CLIENT_RETRY_MAX=5 or API_BASEURL=http://localhost:8080.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "Override api.baseurl")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Override log.level")

	rootCmd.AddCommand(
		newGetCommand(opts),
		newCreateCommand(opts),
		newUpdateCommand(opts),
		newDeleteCommand(opts),
		newAllCommand(opts),
		NewConfigCommand(opts),
		NewVersionCommand(version),
	)

	return rootCmd
}

// loadConfig loads configuration and applies the command-line overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	overrides := []struct{ key, value string }{
		{"api.baseurl", opts.BaseURL},
		{"log.level", opts.LogLevel},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		if err := cfg.Set(o.key, o.value); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openSession loads configuration and builds the client and service.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Pretty, nil)

	// telemetry goes to stderr so stdout only carries the API results
	provider, err := observability.NewProvider(&cfg.Observability, observability.WithWriter(cmd.ErrOrStderr()))
	if err != nil {
		return nil, err
	}

	client, err := rhttp.NewBuilder(log).WithConfig(cfg.Client).Build()
	if err != nil {
		_ = observability.Shutdown(provider, 0)
		return nil, err
	}

	return &session{
		cfg:     cfg,
		log:     log,
		client:  client,
		service: sampleapi.NewService(client, cfg.API.BaseURL, log, cmd.OutOrStdout()),
		otel:    provider,
	}, nil
}

package commands

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gaborage/resilient-http/config"
)

// ConfigOptions holds options for the config command
type ConfigOptions struct {
	Key string
}

// NewConfigCommand creates the config command
func NewConfigCommand(root *RootOptions) *cobra.Command {
	opts := &ConfigOptions{}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved client configuration",
		Long: `Prints the configuration the other commands would run with, after
defaults, the YAML file, environment variables and flags are merged.`,
		Example: `  # Show every key
  sampleapi config

  # Show one key as the environment sees it
  CLIENT_RETRY_MAX=5 sampleapi config --key client.retry.max`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg, opts.Key)
		},
	}

	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "Print only this dotted key")

	return cmd
}

func printConfig(w io.Writer, cfg *config.Config, key string) error {
	if key != "" {
		key = strings.ToLower(key)
		if !cfg.Exists(key) {
			return fmt.Errorf("unknown configuration key %q", key)
		}
		fmt.Fprintln(w, cfg.GetString(key))
		return nil
	}

	all := cfg.All()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s = %v\n", k, all[k])
	}
	return nil
}

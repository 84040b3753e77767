package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrcode/nightscout-loop/internal/config"
	"github.com/mrcode/nightscout-loop/internal/errors"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and validate the loop configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  "Display the configuration after defaults, files and environment are merged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd, root.cfg, format)
		},
	}
	show.Flags().StringVarP(&format, "format", "f", "toml", "Output format: toml, json, yaml")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return errors.Wrap(err, "configuration validation failed")
			}
			if _, err := root.cfg.TherapyFile(); err != nil {
				return errors.Wrap(err, "configuration validation failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			return nil
		},
	}

	where := &cobra.Command{
		Use:   "where",
		Short: "Show which configuration files are read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if root.configPath != "" {
				fmt.Fprintf(out, "  [FLAG]     %s\n", root.configPath)
				return nil
			}
			fmt.Fprintln(out, "Configuration cascade (later overrides earlier):")
			fmt.Fprintln(out, "  [DEFAULT]  Built-in defaults")
			for _, path := range config.ConfigPaths() {
				state := "missing"
				if _, err := os.Stat(path); err == nil {
					state = "found"
				}
				fmt.Fprintf(out, "  [FILE]     %s (%s)\n", path, state)
			}
			fmt.Fprintf(out, "  [ENV]      %s_* environment variables\n", config.EnvPrefix)
			return nil
		},
	}

	cmd.AddCommand(show, validate, where)
	return cmd
}

func showConfig(cmd *cobra.Command, cfg *config.Config, format string) error {
	// secrets never leave the process
	redacted := *cfg
	if redacted.Nightscout.APISecret != "" {
		redacted.Nightscout.APISecret = "********"
	}
	if redacted.Nightscout.APIToken != "" {
		redacted.Nightscout.APIToken = "********"
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		data, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))

	case "yaml":
		data, err := yaml.Marshal(redacted)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# nightscout-loop configuration\n%s", data)

	case "toml":
		data, err := toml.Marshal(redacted)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(out, "# nightscout-loop configuration\n%s", data)

	default:
		return errors.Wrapf(errors.ErrInvalidConfiguration, "unsupported format: %s (supported: toml, json, yaml)", format)
	}
	return nil
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/musher-dev/adoc/internal/config"
	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View and modify adoc configuration settings.`,
	}

	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func unknownKey(key string) error {
	return clierrors.New(clierrors.ExitUsage, fmt.Sprintf("Unknown config key %q", key)).
		WithHint("Run 'adoc config list' to see every key")
}

// formatValue renders lists the way `config set` accepts them.
func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}

		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		Long: `Display every configuration key with its effective value, after the
config file and ADOC_* environment variables are applied.`,
		Example: `  adoc config list
  adoc config list --format toml`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			settings := cfg.All()

			if out.Structured() {
				return out.PrintStructured(settings)
			}

			for _, key := range config.Keys() {
				out.Print("%s = %s\n", key, formatValue(settings[key]))
			}

			out.Println()
			out.Muted("Config file: %s", cfg.Path())

			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Get a configuration value",
		Long:    `Retrieve and display the effective value of a single configuration key.`,
		Example: `  adoc config get organization`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)
			key := args[0]

			if !config.Known(key) {
				return unknownKey(key)
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			value := cfg.Get(key)

			if out.Structured() {
				return out.PrintStructured(map[string]any{key: value})
			}

			if value == nil || value == "" {
				out.Muted("%s is not set", key)
				return nil
			}

			out.Print("%s = %s\n", key, formatValue(value))

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Validate a value and persist it to the config file. Lists such as
projects and display.section_order take comma separated values; a single *
for projects polls every project in the organization. A running daemon is
told to reload.`,
		Example: `  adoc config set organization contoso
  adoc config set projects web,api
  adoc config set features.bookmarks true`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)
			key, value := args[0], args[1]

			if !config.Known(key) {
				return unknownKey(key)
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			if err := cfg.Set(key, value); err != nil {
				return clierrors.ConfigFailed("set config", err)
			}

			out.Success("Set %s = %s", key, value)

			if settings, err := cfg.Settings(); err == nil {
				notifyDaemon(ctx, out, &settings)
			}

			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/musher-dev/adoc/internal/auth"
	"github.com/musher-dev/adoc/internal/output"
	"github.com/musher-dev/adoc/internal/paths"
)

// PathsInfo holds all resolved paths for structured output.
type PathsInfo struct {
	ConfigRoot  string `json:"config_root" yaml:"config_root" toml:"config_root"`
	StateRoot   string `json:"state_root" yaml:"state_root" toml:"state_root"`
	ConfigFile  string `json:"config_file" yaml:"config_file" toml:"config_file"`
	Credentials string `json:"credentials" yaml:"credentials" toml:"credentials"`
	Cache       string `json:"cache" yaml:"cache" toml:"cache"`
	LogFile     string `json:"log_file" yaml:"log_file" toml:"log_file"`
	AuthSource  string `json:"auth_source" yaml:"auth_source" toml:"auth_source"`
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show where adoc stores files",
		Long: `Display all file and directory paths used by adoc.

Useful for debugging, scripting, and understanding where configuration,
the cache the daemon writes, logs and credential files are stored.`,
		Example: `  adoc paths
  adoc paths --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			info := resolvePathsInfo(configPath(cmd.Context()))

			if out.Structured() {
				return out.PrintStructured(info)
			}

			out.Print("Config root:    %s\n", info.ConfigRoot)
			out.Print("State root:     %s\n", info.StateRoot)
			out.Print("\n")
			out.Print("Config file:    %s\n", info.ConfigFile)
			out.Print("Credentials:    %s\n", info.Credentials)
			out.Print("Cache:          %s\n", info.Cache)
			out.Print("Log file:       %s\n", info.LogFile)
			out.Print("\n")
			out.Print("Auth source:    %s\n", info.AuthSource)

			return nil
		},
	}
}

func resolvePathsInfo(configOverride string) PathsInfo {
	info := PathsInfo{
		ConfigRoot:  resolveOrError(paths.ConfigRoot),
		StateRoot:   resolveOrError(paths.StateRoot),
		ConfigFile:  resolveOrError(paths.ConfigFile),
		Credentials: resolveOrError(paths.CredentialsFile),
		Cache:       resolveOrError(paths.CacheDir),
		LogFile:     resolveOrError(paths.DefaultLogFile),
		AuthSource:  "none",
	}

	if configOverride != "" {
		info.ConfigFile = configOverride
	}

	if source, _ := auth.PAT(); source != auth.SourceNone {
		info.AuthSource = string(source)
	}

	return info
}

func resolveOrError(fn func() (string, error)) string {
	val, err := fn()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}

	return val
}

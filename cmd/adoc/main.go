// Package main is the entry point for the adoc CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/musher-dev/adoc/internal/buildinfo"
	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/observability"
	"github.com/musher-dev/adoc/internal/output"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	// Restore cursor visibility on panic; the dashboard and spinners hide it.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprint(os.Stderr, "\033[?25h")
			panic(r)
		}
	}()

	buildinfo.Version = version
	buildinfo.Commit = commit

	out := output.Default()

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		return handleError(out, err)
	}

	return 0
}

// handleError formats and displays a CLI error, returning the exit code.
func handleError(out *output.Writer, err error) int {
	var cliErr *clierrors.CLIError
	if clierrors.As(err, &cliErr) {
		out.Failure("%s", cliErr.Message)

		if cliErr.Hint != "" {
			out.Info("%s", cliErr.Hint)
		}

		return cliErr.Code
	}

	errStr := err.Error()

	// Format: "unknown command \"xyz\" for \"adoc\"\n\nDid you mean this?\n\t..."
	if strings.HasPrefix(errStr, "unknown command") {
		out.Failure("%s", errStr)

		if !strings.Contains(errStr, "--help") {
			out.Info("Run 'adoc --help' for usage")
		}

		return clierrors.ExitUsage
	}

	if strings.HasPrefix(errStr, "unknown flag") ||
		strings.HasPrefix(errStr, "unknown shorthand flag") ||
		strings.Contains(errStr, "required flag") {
		out.Failure("%s", errStr)
		out.Info("Run 'adoc --help' for usage")

		return clierrors.ExitUsage
	}

	out.Failure("%s", errStr)

	return clierrors.ExitGeneral
}

func newRootCmd() *cobra.Command {
	var (
		jsonOutput bool
		format     string
		quiet      bool
		noColor    bool
		noInput    bool
		configFile string
		envFile    string
		logLevel   string
		logFormat  string
		logFile    string
		logStderr  string
	)

	out := output.Default()

	rootCmd := &cobra.Command{
		Use:   "adoc",
		Short: "Azure DevOps companion for builds and pull requests",
		Long: `adoc watches your Azure DevOps pipelines and pull requests from the
terminal. A background daemon polls the organization, notifies you when
your builds finish, keeps a bookmark folder of open pull requests in sync,
and serves a local cache that the dashboard renders.

Get started:
  adoc config set organization <org>   Choose the organization
  adoc auth login                      Store a personal access token
  adoc daemon                          Start polling
  adoc dashboard                       Watch builds and pull requests
  adoc doctor                          Diagnose common issues`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The env file is loaded first so it can set every ADOC_* value
			// below. Variables already in the environment win.
			if path := pickFlagOrEnv(envFile, "ADOC_ENV_FILE", ""); path != "" {
				if err := godotenv.Load(path); err != nil {
					return &clierrors.CLIError{
						Message: fmt.Sprintf("Cannot load env file %s", path),
						Hint:    "Check the --env-file path",
						Cause:   err,
						Code:    clierrors.ExitUsage,
					}
				}
			}

			if jsonOutput {
				format = string(output.FormatJSON)
			}

			parsed, err := output.ParseFormat(pickFlagOrEnv(format, "ADOC_FORMAT", string(output.FormatText)))
			if err != nil {
				return &clierrors.CLIError{
					Message: err.Error(),
					Hint:    "Use --format text, json, yaml or toml",
					Code:    clierrors.ExitUsage,
				}
			}

			out.Format = parsed
			out.Quiet = pickBoolFlagOrEnv(quiet, "ADOC_QUIET")
			out.NoInput = pickBoolFlagOrEnv(noInput, "ADOC_NO_INPUT") || pickBoolFlagOrEnv(false, "CI")

			if noColor {
				out.SetNoColor(true)

				color.NoColor = true
			}

			logCfg := observability.Config{
				Level:          pickFlagOrEnv(logLevel, "ADOC_LOG_LEVEL", "info"),
				Format:         pickFlagOrEnv(logFormat, "ADOC_LOG_FORMAT", "json"),
				LogFile:        pickFlagOrEnv(logFile, "ADOC_LOG_FILE", ""),
				StderrMode:     pickFlagOrEnv(logStderr, "ADOC_LOG_STDERR", "auto"),
				InteractiveTTY: out.Terminal().IsTTY && isInteractiveCommand(cmd.CommandPath()),
				SessionID:      uuid.NewString(),
				CommandPath:    cmd.CommandPath(),
				Version:        version,
				Commit:         commit,
			}

			logger, cleanup, err := observability.NewLogger(&logCfg)
			if err != nil {
				return &clierrors.CLIError{
					Message: fmt.Sprintf("Invalid logging configuration: %v", err),
					Hint:    "Use --log-level (error|warn|info|debug), --log-format (json|text), --log-stderr (auto|on|off), and/or --log-file",
					Code:    clierrors.ExitUsage,
				}
			}

			slog.SetDefault(logger)

			ctx := out.WithContext(cmd.Context())
			ctx = observability.WithLogger(ctx, logger)
			ctx = withConfigPath(ctx, pickFlagOrEnv(configFile, "ADOC_CONFIG", ""))
			cmd.SetContext(ctx)

			if cleanup != nil {
				cmd.PostRunE = wrapPostRunCleanup(cmd.PostRunE, cleanup)
			}

			// OpenTelemetry tracing is opt-in via OTEL_ENABLED.
			telemetryCfg := &observability.TelemetryConfig{
				Enabled:     observability.IsTelemetryEnabled(),
				ServiceName: "adoc",
				Version:     version,
				Commit:      commit,
				SampleRatio: observability.TraceSampleRatio(),
			}

			telemetryShutdown, telemetryErr := observability.SetupTelemetry(ctx, telemetryCfg)
			if telemetryErr != nil {
				logger.Warn("telemetry initialization failed", slog.String("error", telemetryErr.Error()))
			}

			if telemetryShutdown != nil {
				cmd.PostRunE = wrapNamedPostRunCleanup(cmd.PostRunE, "telemetry resources", func() error {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()

					return telemetryShutdown(shutdownCtx)
				})
			}

			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&format, "format", "", "Output format: text, json, yaml, toml")
	flags.BoolVar(&jsonOutput, "json", false, "Output in JSON format (same as --format json)")
	flags.BoolVar(&quiet, "quiet", false, "Minimal output (for CI)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&noInput, "no-input", false, "Disable interactive prompts")
	flags.StringVar(&configFile, "config", "", "Config file (default: <user config dir>/adoc/config.yaml)")
	flags.StringVar(&envFile, "env-file", "", "Load ADOC_* variables from a .env file")
	flags.StringVar(&logLevel, "log-level", "", "Log level: error, warn, info, debug")
	flags.StringVar(&logFormat, "log-format", "", "Log format: json, text")
	flags.StringVar(&logFile, "log-file", "", "Optional structured log file path")
	flags.StringVar(&logStderr, "log-stderr", "", "Structured logging to stderr: auto, on, off")

	rootCmd.SuggestionsMinimumDistance = 2

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &clierrors.CLIError{
			Message: err.Error(),
			Hint:    fmt.Sprintf("Run '%s --help' for available flags", cmd.CommandPath()),
			Code:    clierrors.ExitUsage,
		}
	})

	// Polling
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newPollCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newDashboardCmd())
	rootCmd.AddCommand(newWatchCmd())

	// Resource commands (noun-first)
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newConfigCmd())

	// Utility commands
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(newPathsCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func wrapPostRunCleanup(postRun func(*cobra.Command, []string) error, cleanup func() error) func(*cobra.Command, []string) error {
	return wrapNamedPostRunCleanup(postRun, "logger resources", cleanup)
}

func wrapNamedPostRunCleanup(postRun func(*cobra.Command, []string) error, name string, cleanup func() error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if postRun != nil {
			if err := postRun(cmd, args); err != nil {
				_ = cleanup()
				return err
			}
		}

		if err := cleanup(); err != nil {
			return fmt.Errorf("cleanup %s: %w", name, err)
		}

		return nil
	}
}

func pickBoolFlagOrEnv(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}

	v := strings.ToLower(strings.TrimSpace(os.Getenv(envKey)))

	return v == "1" || v == "true" || v == "yes"
}

func pickFlagOrEnv(flagValue, envKey, fallback string) string {
	trimmed := strings.TrimSpace(flagValue)
	if trimmed != "" {
		return trimmed
	}

	if envValue := strings.TrimSpace(os.Getenv(envKey)); envValue != "" {
		return envValue
	}

	return fallback
}

// isInteractiveCommand reports whether the command owns the terminal, in
// which case structured logs go to the log file instead of stderr.
func isInteractiveCommand(path string) bool {
	return path == "adoc dashboard" || strings.HasPrefix(path, "adoc dashboard ")
}

// VersionInfo represents version information for structured output.
type VersionInfo struct {
	Version string `json:"version" yaml:"version" toml:"version"`
	Commit  string `json:"commit" yaml:"commit" toml:"commit"`
	Date    string `json:"date" yaml:"date" toml:"date"`
}

// noArgs returns a Cobra positional-arg validator that rejects any arguments
// with a clear, user-friendly message (unlike cobra.NoArgs which says "unknown command").
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &clierrors.CLIError{
			Message: fmt.Sprintf("'%s' accepts no arguments", cmd.CommandPath()),
			Hint:    fmt.Sprintf("Run '%s --help' for usage", cmd.CommandPath()),
			Code:    clierrors.ExitUsage,
		}
	}

	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		Long:    `Display the adoc binary version, git commit, and build date.`,
		Example: `  adoc version
  adoc version --format yaml`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if out.Structured() {
				return out.PrintStructured(VersionInfo{
					Version: version,
					Commit:  commit,
					Date:    date,
				})
			}

			out.Print("adoc %s\n", version)
			out.Print("  commit: %s\n", commit)
			out.Print("  built:  %s\n", date)

			return nil
		},
	}
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish|powershell>",
		Short: "Generate a shell completion script",
		Long: `Write a completion script for the given shell to stdout. Source it from
your shell profile to complete adoc commands and flags.`,
		Example: `  adoc completion bash > /etc/bash_completion.d/adoc
  adoc completion zsh > "${fpath[1]}/_adoc"`,
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			root := cmd.Root()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			default:
				return root.GenPowerShellCompletionWithDesc(w)
			}
		},
	}
}

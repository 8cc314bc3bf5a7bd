package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/musher-dev/adoc/internal/ado"
	"github.com/musher-dev/adoc/internal/auth"
	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/control"
	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/observability"
	"github.com/musher-dev/adoc/internal/output"
	"github.com/musher-dev/adoc/internal/prompt"
)

const patEnvVar = "ADOC_PAT"

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the personal access token",
		Long:  `Store, inspect, and remove the Azure DevOps personal access token adoc polls with.`,
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())

	return cmd
}

// verifyPAT checks pat against the organization and returns the identity.
func verifyPAT(ctx context.Context, s *config.Settings, pat string) (*ado.ConnectionData, error) {
	client := ado.New(s.Organization, pat,
		ado.WithBaseURL(s.APIBaseURL),
		ado.WithAPIVersion(s.APIVersion),
	)

	return client.ConnectionData(ctx)
}

func authError(err error) error {
	switch ado.StatusCode(err) {
	case 401, 403:
		return clierrors.CredentialsInvalid(err)
	default:
		return clierrors.AuthFailed(err)
	}
}

func newAuthLoginCmd() *cobra.Command {
	var patFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a personal access token",
		Long: `Verify a personal access token against the configured organization and
store it in the system keyring (macOS Keychain, Windows Credential Manager,
or Linux Secret Service), falling back to a credentials file. The token
needs Build (read) and Code (read) scopes. The ADOC_PAT environment
variable takes precedence over the stored token.

On a terminal, login also asks for the organization and the projects to
poll when they are not configured yet.`,
		Example: `  adoc auth login
  ADOC_PAT=... adoc auth login --no-input`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)
			prompter := prompt.New(out)

			if os.Getenv(patEnvVar) != "" {
				out.Info("%s environment variable is set", patEnvVar)
				out.Muted("Environment variable takes precedence over stored credentials")
				out.Println()
			}

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			settings, err := cfg.Settings()
			if err != nil {
				return clierrors.ConfigFailed("read settings", err)
			}

			if settings.Organization == "" && prompter.CanPrompt() {
				org, err := prompter.Input("Azure DevOps organization", "")
				if err != nil {
					return promptError(err)
				}

				if org != "" {
					if err := cfg.Set("organization", org); err != nil {
						return clierrors.ConfigFailed("set organization", err)
					}

					settings.Organization = org
				}
			}

			pat := patFlag
			if pat == "" {
				pat = os.Getenv(patEnvVar)
			}

			if pat == "" {
				if !prompter.CanPrompt() {
					return clierrors.CannotPrompt(patEnvVar)
				}

				pat, err = prompter.Password("Enter your Azure DevOps personal access token")
				if err != nil {
					return promptError(err)
				}
			}

			if pat == "" {
				return clierrors.PATEmpty()
			}

			if settings.Organization != "" {
				spin := out.Spinner("Verifying token with " + settings.Organization)
				spin.Start()

				data, err := verifyPAT(ctx, &settings, pat)
				if err != nil {
					spin.StopWithFailure("Token rejected")
					return authError(err)
				}

				spin.StopWithSuccess("Authenticated as " + data.AuthenticatedUser.ProviderDisplayName)
			} else {
				out.Warning("No organization configured; storing the token without verifying it")
			}

			source, err := auth.StorePAT(pat)
			if err != nil {
				return clierrors.ConfigFailed("store credentials", err)
			}

			out.Success("Token stored in %s (%s)", source, auth.Mask(pat))

			if settings.Organization != "" && len(settings.Projects) == 0 && prompter.CanPrompt() {
				if err := chooseProjects(ctx, out, prompter, cfg, &settings, pat); err != nil {
					return err
				}
			}

			notifyDaemon(ctx, out, &settings)

			return nil
		},
	}

	cmd.Flags().StringVar(&patFlag, "pat", "", "Token for non-interactive login (prefer ADOC_PAT to avoid shell history exposure)")

	return cmd
}

func promptError(err error) error {
	if prompt.IsCanceled(err) {
		return clierrors.New(clierrors.ExitGeneral, "Login canceled")
	}

	return clierrors.Wrap(clierrors.ExitGeneral, "Cannot read input", err)
}

// chooseProjects offers the organization's projects and saves the pick.
// Listing failures only warn; projects can be set later with config set.
func chooseProjects(ctx context.Context, out *output.Writer, prompter *prompt.Prompter, cfg *config.Config, s *config.Settings, pat string) error {
	client := ado.New(s.Organization, pat, ado.WithBaseURL(s.APIBaseURL), ado.WithAPIVersion(s.APIVersion))

	projects, err := client.Projects(ctx)
	if err != nil || len(projects) == 0 {
		out.Warning("Could not list projects; run 'adoc config set projects <names>'")
		return nil
	}

	options := make([]string, 0, len(projects)+1)
	options = append(options, "All projects")

	for _, p := range projects {
		options = append(options, p.Name)
	}

	idx, err := prompter.Select("Which projects should adoc poll?", options)
	if err != nil {
		return promptError(err)
	}

	value := config.AllProjects
	if idx > 0 {
		value = options[idx]
	}

	if err := cfg.SetList(config.KeyProjects, []string{value}); err != nil {
		return clierrors.ConfigFailed("set projects", err)
	}

	s.Projects = []string{value}
	out.Success("Polling %s", options[idx])

	return nil
}

// AuthStatus represents authentication status for structured output.
type AuthStatus struct {
	Source       string `json:"source" yaml:"source" toml:"source"`
	Token        string `json:"token" yaml:"token" toml:"token"`
	Organization string `json:"organization" yaml:"organization" toml:"organization"`
	User         string `json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
	Account      string `json:"account,omitempty" yaml:"account,omitempty" toml:"account,omitempty"`
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the token comes from and who it is",
		Long: `Report the credential source and verify the token against the configured
organization.`,
		Example: `  adoc auth status
  adoc auth status --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			settings, err := loadSettings(ctx)
			if err != nil {
				return err
			}

			if err := requireConfigured(&settings); err != nil {
				return err
			}

			source, pat := auth.PAT()

			spin := out.Spinner("Checking credentials")
			spin.Start()

			data, err := verifyPAT(ctx, &settings, pat)
			if err != nil {
				spin.StopWithFailure("Credentials invalid")
				return authError(err)
			}

			spin.StopWithSuccess("Authenticated")

			status := AuthStatus{
				Source:       string(source),
				Token:        auth.Mask(pat),
				Organization: settings.Organization,
				User:         data.AuthenticatedUser.ProviderDisplayName,
				Account:      data.AuthenticatedUser.AccountName(),
			}

			if out.Structured() {
				return out.PrintStructured(status)
			}

			out.Print("Source:       %s\n", status.Source)
			out.Print("Token:        %s\n", status.Token)
			out.Print("Organization: %s\n", status.Organization)
			out.Print("User:         %s\n", status.User)

			if status.Account != "" {
				out.Print("Account:      %s\n", status.Account)
			}

			return nil
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		Long: `Delete the token from the keyring and the credentials file. Asks for
confirmation on a terminal unless --force is passed.`,
		Example: `  adoc auth logout
  adoc auth logout --force`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			if prompter := prompt.New(out); !force && prompter.CanPrompt() {
				ok, err := prompter.Confirm("Remove the stored personal access token?", false)
				if err != nil && !prompt.IsCanceled(err) {
					return clierrors.Wrap(clierrors.ExitGeneral, "Cannot read input", err)
				}

				if !ok {
					out.Muted("Logout canceled")
					return nil
				}
			}

			if err := auth.DeletePAT(); err != nil {
				if errors.Is(err, auth.ErrNoCredentials) {
					out.Muted("No stored credentials found")
					return nil
				}

				return clierrors.ConfigFailed("clear credentials", err)
			}

			out.Success("Logged out successfully")

			if os.Getenv(patEnvVar) != "" {
				out.Println()
				out.Warning("%s environment variable is still set", patEnvVar)
			}

			if settings, err := loadSettings(ctx); err == nil {
				notifyDaemon(ctx, out, &settings)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")

	return cmd
}

// notifyDaemon tells a running daemon that settings or credentials changed.
// A daemon that is not running picks the change up when it starts.
func notifyDaemon(ctx context.Context, out *output.Writer, s *config.Settings) {
	if _, err := control.NewClient(s.ControlAddr).ConfigChanged(ctx); err != nil {
		if !errors.Is(err, control.ErrUnreachable) {
			observability.FromContext(ctx).Warn("Daemon config reload failed", slog.String("error", err.Error()))
		}

		return
	}

	out.Muted("Daemon reloaded")
}

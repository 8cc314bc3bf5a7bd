package main

import (
	"github.com/spf13/cobra"

	"github.com/musher-dev/adoc/internal/ado"
	"github.com/musher-dev/adoc/internal/auth"
	"github.com/musher-dev/adoc/internal/buildinfo"
	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/control"
	"github.com/musher-dev/adoc/internal/doctor"
	"github.com/musher-dev/adoc/internal/notify"
	"github.com/musher-dev/adoc/internal/output"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose common issues",
		Long: `Run diagnostic checks to identify configuration and connectivity issues.

Checks performed:
  - Organization and projects configuration
  - Personal access token source and validity
  - Whether the daemon is running and up to date
  - Cache freshness and the last cycle error
  - Desktop notification support and the bookmark file`,
		Example: `  adoc doctor
  adoc doctor --format json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			_, area, err := openCache()
			if err != nil {
				return err
			}

			addr := config.DefaultControlAddr
			if s, err := cfg.Settings(); err == nil {
				addr = s.ControlAddr
			}

			env := &doctor.Env{
				Settings: cfg.Settings,
				PATSource: func() auth.CredentialSource {
					source, _ := auth.PAT()
					return source
				},
				NewConnector: func(s *config.Settings) doctor.Connector {
					return ado.New(s.Organization, s.PAT, ado.WithBaseURL(s.APIBaseURL), ado.WithAPIVersion(s.APIVersion))
				},
				Daemon:        control.NewClient(addr),
				Cache:         area,
				NotifySupport: notify.NewDesktop().Supported(),
				Version:       buildinfo.Version,
			}

			results := doctor.New(env).Run(ctx)

			if out.Structured() {
				return out.PrintStructured(DoctorReport{Checks: results})
			}

			renderDoctor(out, results)

			return nil
		},
	}
}

// DoctorReport is the structured form of `adoc doctor`.
type DoctorReport struct {
	Checks []doctor.Result `json:"checks" yaml:"checks" toml:"checks"`
}

func renderDoctor(out *output.Writer, results []doctor.Result) {
	out.Println("adoc doctor")
	out.Println("===========")
	out.Println()

	doctor.RenderResults(results, out.Print, out.Success, out.Warning, out.Failure, out.Muted)

	passed, failed, warnings := doctor.Summary(results)

	out.Println()
	out.Print("%d passed", passed)

	if failed > 0 {
		out.Print(", %d failed", failed)
	}

	if warnings > 0 {
		out.Print(", %d warning(s)", warnings)
	}

	out.Println()
}

package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/control"
	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/paths"
	"github.com/musher-dev/adoc/internal/poller"
	"github.com/musher-dev/adoc/internal/store"
)

type configPathKey struct{}

func withConfigPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, configPathKey{}, path)
}

// configPath is the --config value, or "" for the default location.
func configPath(ctx context.Context) string {
	path, _ := ctx.Value(configPathKey{}).(string)
	return path
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(configPath(ctx))
	if err != nil {
		return nil, clierrors.ConfigFailed("load config", err)
	}

	return cfg, nil
}

func loadSettings(ctx context.Context) (config.Settings, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return config.Settings{}, err
	}

	s, err := cfg.Settings()
	if err != nil {
		return config.Settings{}, clierrors.ConfigFailed("read settings", err)
	}

	return s, nil
}

// settingsLoader re-reads the config file on every call, so a running
// daemon picks up `adoc config set` on its next cycle.
func settingsLoader(path string) func() (config.Settings, error) {
	return func() (config.Settings, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return config.Settings{}, err
		}

		return cfg.Settings()
	}
}

// requireConfigured fails with a hint naming what is missing.
func requireConfigured(s *config.Settings) error {
	if s.Configured() {
		return nil
	}

	return clierrors.NotConfigured(strings.Join(s.Missing(), " or "))
}

func openCache() (*store.Store, *store.Area, error) {
	dir, err := paths.CacheDir()
	if err != nil {
		return nil, nil, clierrors.CacheFailed("resolve cache directory", err)
	}

	s, err := store.Open(dir)
	if err != nil {
		return nil, nil, clierrors.CacheFailed("open cache", err)
	}

	return s, s.Area(store.LocalArea), nil
}

// newDaemonClient returns a control API client for the configured address.
func newDaemonClient(ctx context.Context) (*control.Client, string, error) {
	s, err := loadSettings(ctx)
	if err != nil {
		return nil, "", err
	}

	return control.NewClient(s.ControlAddr), s.ControlAddr, nil
}

// daemonError maps control API failures to CLI errors.
func daemonError(addr string, err error) error {
	if errors.Is(err, control.ErrUnreachable) {
		return clierrors.DaemonUnreachable(addr, err)
	}

	var statusErr *control.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnprocessableEntity:
			return clierrors.Wrap(clierrors.ExitUsage, "Build is not in the configured organization", err).
				WithHint("Only builds of the organization set with 'adoc config set organization' can be watched")
		case http.StatusServiceUnavailable:
			return clierrors.Wrap(clierrors.ExitNetwork, "The daemon could not run a poll cycle", err).
				WithHint("Check 'adoc status' and the daemon log")
		}
	}

	if errors.Is(err, poller.ErrForeignOrganization) {
		return clierrors.Wrap(clierrors.ExitUsage, "Build is not in the configured organization", err)
	}

	return clierrors.Wrap(clierrors.ExitGeneral, "Daemon request failed", err)
}

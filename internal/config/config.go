// Package config handles adoc configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (ADOC_*, e.g. ADOC_ORGANIZATION, ADOC_POLL_ACTIVE_INTERVAL)
//  2. Config file (<user config dir>/adoc/config.yaml)
//  3. Built-in defaults
//
// Callers read one fully-populated Settings value; defaults are applied here
// and nowhere else.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/musher-dev/adoc/internal/auth"
	"github.com/musher-dev/adoc/internal/paths"
)

// Keys accepted by `adoc config get|set`.
const (
	KeyOrganization   = "organization"
	KeyProjects       = "projects"
	KeyActiveInterval = "poll.active_interval"
	KeyIdleInterval   = "poll.idle_interval"
	KeyPullRequests   = "features.pull_requests"
	KeyBookmarks      = "features.bookmarks"
	KeyNotifications  = "features.notifications"
	KeyBookmarkFolder = "bookmarks.folder"
	KeyBookmarkFile   = "bookmarks.file"
	KeyShowCanceled   = "display.show_canceled"
	KeyRecentHours    = "display.recent_hours"
	KeyMaxCompleted   = "display.max_completed"
	KeyMaxFailed      = "display.max_failed"
	KeySectionOrder   = "display.section_order"
	KeyAPIVersion     = "api.version"
	KeyAPIBaseURL     = "api.base_url"
	KeyControlAddr    = "control.addr"
)

// Defaults.
const (
	DefaultActiveInterval = 30
	DefaultIdleInterval   = 120
	DefaultBookmarkFolder = "Open PRs"
	DefaultRecentHours    = 48
	DefaultMaxCompleted   = 10
	DefaultMaxFailed      = 10
	DefaultAPIVersion     = "7.1"
	DefaultAPIBaseURL     = "https://dev.azure.com"
	DefaultControlAddr    = "127.0.0.1:17321"

	// AllProjects anywhere in the project list selects every project.
	AllProjects = "*"

	envPrefix = "ADOC"
)

// DefaultSectionOrder is the dashboard section order out of the box.
var DefaultSectionOrder = []string{"pullRequests", "activePipelines", "completed", "failed"}

var defaults = map[string]any{
	KeyProjects:       []string{},
	KeyActiveInterval: DefaultActiveInterval,
	KeyIdleInterval:   DefaultIdleInterval,
	KeyPullRequests:   true,
	KeyBookmarks:      false,
	KeyNotifications:  true,
	KeyBookmarkFolder: DefaultBookmarkFolder,
	KeyBookmarkFile:   "",
	KeyShowCanceled:   false,
	KeyRecentHours:    DefaultRecentHours,
	KeyMaxCompleted:   DefaultMaxCompleted,
	KeyMaxFailed:      DefaultMaxFailed,
	KeySectionOrder:   DefaultSectionOrder,
	KeyAPIVersion:     DefaultAPIVersion,
	KeyAPIBaseURL:     DefaultAPIBaseURL,
	KeyControlAddr:    DefaultControlAddr,
}

// Config wraps the layered Viper configuration.
type Config struct {
	v    *viper.Viper
	path string
}

// Load reads configuration from all sources. An empty path selects the
// default config file location.
func Load(path string) (*Config, error) {
	if path == "" {
		defaultPath, err := paths.ConfigFile()
		if err != nil {
			return nil, fmt.Errorf("resolve config file: %w", err)
		}

		path = defaultPath
	}

	v := viper.New()

	v.SetDefault(KeyOrganization, "")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return &Config{v: v, path: path}, nil
}

// Path returns the config file location.
func (c *Config) Path() string {
	return c.path
}

// Get returns a raw configuration value.
func (c *Config) Get(key string) any {
	return c.v.Get(key)
}

// Known reports whether key is a supported configuration key.
func Known(key string) bool {
	if key == KeyOrganization {
		return true
	}

	_, ok := defaults[key]

	return ok
}

// Keys lists every supported key in sorted order.
func Keys() []string {
	keys := []string{KeyOrganization}
	for key := range defaults {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// Set validates and persists a single value given as command-line text.
func (c *Config) Set(key, raw string) error {
	if !Known(key) {
		return fmt.Errorf("unknown config key %q", key)
	}

	value, err := coerce(key, raw)
	if err != nil {
		return err
	}

	return c.store(key, value)
}

// SetList stores a list-valued key without re-parsing its entries.
func (c *Config) SetList(key string, values []string) error {
	if key != KeyProjects && key != KeySectionOrder {
		return fmt.Errorf("config key %q is not a list", key)
	}

	return c.store(key, stringList(values))
}

func (c *Config) store(key string, value any) error {
	previous := c.v.Get(key)
	c.v.Set(key, value)

	if _, err := c.Settings(); err != nil {
		c.v.Set(key, previous)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := c.v.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// All returns every key with its effective value.
func (c *Config) All() map[string]any {
	all := make(map[string]any, len(defaults)+1)
	for _, key := range Keys() {
		all[key] = c.v.Get(key)
	}

	return all
}

// Settings resolves the effective settings, including the PAT from the
// credential store, and validates them.
func (c *Config) Settings() (Settings, error) {
	_, pat := auth.PAT()

	s := Settings{
		Organization:          strings.TrimSpace(c.v.GetString(KeyOrganization)),
		PAT:                   pat,
		Projects:              stringList(c.v.Get(KeyProjects)),
		ActivePollingInterval: c.v.GetInt(KeyActiveInterval),
		IdlePollingInterval:   c.v.GetInt(KeyIdleInterval),
		ShowPullRequests:      c.v.GetBool(KeyPullRequests),
		EnableBookmarks:       c.v.GetBool(KeyBookmarks),
		EnableNotifications:   c.v.GetBool(KeyNotifications),
		BookmarkFolderName:    c.v.GetString(KeyBookmarkFolder),
		BookmarkFile:          c.v.GetString(KeyBookmarkFile),
		ShowCanceledBuilds:    c.v.GetBool(KeyShowCanceled),
		RecentBuildHours:      c.v.GetInt(KeyRecentHours),
		MaxCompletedBuilds:    c.v.GetInt(KeyMaxCompleted),
		MaxFailedBuilds:       c.v.GetInt(KeyMaxFailed),
		SectionOrder:          stringList(c.v.Get(KeySectionOrder)),
		APIVersion:            c.v.GetString(KeyAPIVersion),
		APIBaseURL:            strings.TrimRight(c.v.GetString(KeyAPIBaseURL), "/"),
		ControlAddr:           c.v.GetString(KeyControlAddr),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// stringList accepts a YAML list or a comma separated string (the form
// environment variables take). Project names may contain spaces.
func stringList(raw any) []string {
	var parts []string

	switch v := raw.(type) {
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
	case string:
		parts = strings.Split(v, ",")
	}

	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed settings.schema.json
var settingsSchema []byte

const settingsSchemaURL = "https://adoc.local/settings.schema.json"

// minAPIVersion is the oldest REST API version whose build and pull request
// payloads carry the fields adoc reads.
var minAPIVersion = semver.MustParse("6.0")

// Settings is the fully resolved configuration. Every field is populated;
// the JSON form is what the cache mirrors for the dashboard.
type Settings struct {
	Organization          string   `json:"organization"`
	PAT                   string   `json:"-"`
	Projects              []string `json:"projects"`
	ActivePollingInterval int      `json:"activePollingInterval"`
	IdlePollingInterval   int      `json:"idlePollingInterval"`
	ShowPullRequests      bool     `json:"showPullRequests"`
	EnableBookmarks       bool     `json:"enableBookmarks"`
	EnableNotifications   bool     `json:"enableNotifications"`
	BookmarkFolderName    string   `json:"bookmarkFolderName"`
	BookmarkFile          string   `json:"bookmarkFile"`
	ShowCanceledBuilds    bool     `json:"showCanceledBuilds"`
	RecentBuildHours      int      `json:"recentBuildsHours"`
	MaxCompletedBuilds    int      `json:"maxCompletedBuilds"`
	MaxFailedBuilds       int      `json:"maxFailedBuilds"`
	SectionOrder          []string `json:"sectionOrder"`
	APIVersion            string   `json:"apiVersion"`
	APIBaseURL            string   `json:"apiBaseUrl"`
	ControlAddr           string   `json:"controlAddr"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Projects:              []string{},
		ActivePollingInterval: DefaultActiveInterval,
		IdlePollingInterval:   DefaultIdleInterval,
		ShowPullRequests:      true,
		EnableNotifications:   true,
		BookmarkFolderName:    DefaultBookmarkFolder,
		RecentBuildHours:      DefaultRecentHours,
		MaxCompletedBuilds:    DefaultMaxCompleted,
		MaxFailedBuilds:       DefaultMaxFailed,
		SectionOrder:          append([]string(nil), DefaultSectionOrder...),
		APIVersion:            DefaultAPIVersion,
		APIBaseURL:            DefaultAPIBaseURL,
		ControlAddr:           DefaultControlAddr,
	}
}

// Configured reports whether polling can run: an organization and a PAT
// are required. An empty project list polls nothing but still
// authenticates.
func (s *Settings) Configured() bool {
	return s.Organization != "" && s.PAT != ""
}

// Missing names the settings that keep Configured from being true.
func (s *Settings) Missing() []string {
	var missing []string

	if s.Organization == "" {
		missing = append(missing, KeyOrganization)
	}

	if s.PAT == "" {
		missing = append(missing, "personal access token")
	}

	return missing
}

// AllProjects reports whether every project in the organization is polled.
func (s *Settings) AllProjects() bool {
	return slices.Contains(s.Projects, AllProjects)
}

// ActiveInterval is the delay between cycles while builds are running.
func (s *Settings) ActiveInterval() time.Duration {
	return time.Duration(s.ActivePollingInterval) * time.Second
}

// IdleInterval is the delay between cycles while nothing is running.
func (s *Settings) IdleInterval() time.Duration {
	return time.Duration(s.IdlePollingInterval) * time.Second
}

// RecentWindow is how far back completed builds are fetched.
func (s *Settings) RecentWindow() time.Duration {
	return time.Duration(s.RecentBuildHours) * time.Hour
}

// Validate checks the settings against the embedded schema and the API
// version constraint.
func (s *Settings) Validate() error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}

	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	version, err := semver.NewVersion(s.APIVersion)
	if err != nil {
		return fmt.Errorf("invalid api.version %q: %w", s.APIVersion, err)
	}

	if version.LessThan(minAPIVersion) {
		return fmt.Errorf("api.version %s is older than the minimum supported %s", s.APIVersion, minAPIVersion.Original())
	}

	return nil
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(settingsSchema))
	if err != nil {
		return nil, fmt.Errorf("parse settings schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(settingsSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("load settings schema: %w", err)
	}

	schema, err := compiler.Compile(settingsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile settings schema: %w", err)
	}

	return schema, nil
})

// coerce converts command-line text into the type stored under key.
func coerce(key, raw string) (any, error) {
	raw = strings.TrimSpace(raw)

	switch key {
	case KeyProjects, KeySectionOrder:
		return stringList(raw), nil
	case KeyActiveInterval, KeyIdleInterval, KeyRecentHours, KeyMaxCompleted, KeyMaxFailed:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer: %w", key, err)
		}

		return n, nil
	case KeyPullRequests, KeyBookmarks, KeyNotifications, KeyShowCanceled:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false: %w", key, err)
		}

		return b, nil
	default:
		return raw, nil
	}
}

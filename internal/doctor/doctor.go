// Package doctor provides diagnostic checks for adoc health.
//
// This package implements a check framework that validates:
//   - Configuration and the credential source
//   - Azure DevOps connectivity and the PAT
//   - Whether the daemon is running
//   - Cache freshness, notifications and the bookmark file
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/musher-dev/adoc/internal/ado"
	"github.com/musher-dev/adoc/internal/auth"
	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/control"
	"github.com/musher-dev/adoc/internal/store"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// Result holds the outcome of a single check.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// Connector verifies a PAT against the organization.
type Connector interface {
	ConnectionData(ctx context.Context) (*ado.ConnectionData, error)
}

// Daemon reports on the running daemon.
type Daemon interface {
	Status(ctx context.Context) (*control.StatusResponse, error)
}

// Env is what the checks inspect.
type Env struct {
	Settings      func() (config.Settings, error)
	PATSource     func() auth.CredentialSource
	NewConnector  func(s *config.Settings) Connector
	Daemon        Daemon
	Cache         store.Reader
	NotifySupport bool
	Version       string
	Now           func() time.Time
}

// New creates a diagnostic runner with the default checks.
func New(env *Env) *Runner {
	if env.Now == nil {
		env.Now = time.Now
	}

	r := &Runner{}

	r.AddCheck("Configuration", env.checkConfiguration)
	r.AddCheck("Credentials", env.checkCredentials)
	r.AddCheck("Azure DevOps", env.checkConnectivity)
	r.AddCheck("Daemon", env.checkDaemon)
	r.AddCheck("Cache", env.checkCache)
	r.AddCheck("Notifications", env.checkNotifications)
	r.AddCheck("Bookmarks", env.checkBookmarks)

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

func (e *Env) checkConfiguration(context.Context) Result {
	s, err := e.Settings()
	if err != nil {
		return Result{Status: StatusFail, Message: "Invalid configuration", Detail: err.Error()}
	}

	if s.Organization == "" {
		return Result{
			Status:  StatusFail,
			Message: "No organization set",
			Detail:  "Run 'adoc config set organization <name>'",
		}
	}

	projects := fmt.Sprintf("%d project(s)", len(s.Projects))
	if s.AllProjects() {
		projects = "all projects"
	}

	if len(s.Projects) == 0 {
		return Result{
			Status:  StatusWarn,
			Message: s.Organization + ", no projects",
			Detail:  "Run 'adoc config set projects <a,b>' or '*' for all",
		}
	}

	return Result{Status: StatusPass, Message: s.Organization + ", " + projects}
}

func (e *Env) checkCredentials(context.Context) Result {
	source := e.PATSource()
	if source == auth.SourceNone {
		return Result{
			Status:  StatusFail,
			Message: "No PAT stored",
			Detail:  "Run 'adoc auth login' to store a personal access token",
		}
	}

	return Result{Status: StatusPass, Message: "PAT via " + string(source)}
}

// checkConnectivity makes the same connection call a poll cycle starts with.
func (e *Env) checkConnectivity(ctx context.Context) Result {
	s, err := e.Settings()
	if err != nil || !s.Configured() {
		return Result{Status: StatusWarn, Message: "Skipped (not configured)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := e.Now()
	data, err := e.NewConnector(&s).ConnectionData(checkCtx)
	elapsed := e.Now().Sub(start)

	if err != nil {
		switch ado.StatusCode(err) {
		case 401, 403:
			return Result{
				Status:  StatusFail,
				Message: "Your PAT is invalid or has expired.",
				Detail:  "Run 'adoc auth login' with a PAT that has Build (read) and Code (read) scopes",
			}
		default:
			return Result{Status: StatusFail, Message: s.APIBaseURL + "/" + s.Organization, Detail: err.Error()}
		}
	}

	user := data.AuthenticatedUser
	who := user.ProviderDisplayName

	if account := user.AccountName(); account != "" {
		who += " <" + account + ">"
	}

	return Result{Status: StatusPass, Message: fmt.Sprintf("%s (%dms)", who, elapsed.Milliseconds())}
}

func (e *Env) checkDaemon(ctx context.Context) Result {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status, err := e.Daemon.Status(checkCtx)
	if err != nil {
		detail := "Start it with 'adoc daemon'"
		if !errors.Is(err, control.ErrUnreachable) {
			detail = err.Error()
		}

		return Result{Status: StatusWarn, Message: "Not running", Detail: detail}
	}

	if older(status.Version, e.Version) {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("Running v%s, CLI is v%s", status.Version, e.Version),
			Detail:  "Restart the daemon to pick up the new version",
		}
	}

	return Result{Status: StatusPass, Message: fmt.Sprintf("%s (v%s)", status.State, status.Version)}
}

// older reports whether daemon is a lower release than cli. Unparseable
// versions such as "dev" never compare as older.
func older(daemon, cli string) bool {
	d, err := semver.NewVersion(daemon)
	if err != nil {
		return false
	}

	c, err := semver.NewVersion(cli)
	if err != nil {
		return false
	}

	return d.LessThan(c)
}

func (e *Env) checkCache(context.Context) Result {
	lastUpdated, ok, err := store.Load(e.Cache, store.KeyLastUpdated)
	if err != nil {
		return Result{Status: StatusFail, Message: "Unreadable", Detail: err.Error()}
	}

	if !ok || lastUpdated.IsZero() {
		return Result{Status: StatusWarn, Message: "Never updated"}
	}

	age := e.Now().Sub(lastUpdated).Round(time.Second)

	errState, _, err := store.Load(e.Cache, store.KeyErrorState)
	if err == nil && errState != nil {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("Updated %s ago, last cycle failed", age),
			Detail:  fmt.Sprintf("%s: %s", errState.Type, errState.Message),
		}
	}

	return Result{Status: StatusPass, Message: fmt.Sprintf("Updated %s ago", age)}
}

func (e *Env) checkNotifications(context.Context) Result {
	s, err := e.Settings()
	if err == nil && !s.EnableNotifications {
		return Result{Status: StatusPass, Message: "Disabled"}
	}

	if !e.NotifySupport {
		return Result{
			Status:  StatusWarn,
			Message: "No desktop notifier on this platform",
			Detail:  "Completions are written to the log instead",
		}
	}

	return Result{Status: StatusPass, Message: "Desktop notifications enabled"}
}

func (e *Env) checkBookmarks(context.Context) Result {
	s, err := e.Settings()
	if err != nil || !s.EnableBookmarks {
		return Result{Status: StatusPass, Message: "Disabled"}
	}

	if s.BookmarkFile == "" {
		return Result{
			Status:  StatusFail,
			Message: "Enabled but no bookmark file set",
			Detail:  "Run 'adoc config set bookmarks.file <path to Bookmarks>'",
		}
	}

	if _, err := os.Stat(s.BookmarkFile); err != nil {
		return Result{Status: StatusFail, Message: s.BookmarkFile, Detail: err.Error()}
	}

	return Result{Status: StatusPass, Message: fmt.Sprintf("%q in %s", s.BookmarkFolderName, s.BookmarkFile)}
}

// RenderResults formats diagnostic results to the given output writer.
func RenderResults(results []Result, printFn, successFn, warningFn, failureFn, mutedFn func(format string, args ...any)) {
	maxNameLen := 0
	for _, r := range results {
		if len(r.Name) > maxNameLen {
			maxNameLen = len(r.Name)
		}
	}

	for _, r := range results {
		symbol := r.Status.Symbol()
		padding := maxNameLen - len(r.Name) + 4

		switch r.Status {
		case StatusPass:
			successFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusWarn:
			warningFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusFail:
			failureFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		default:
			printFn("%s %-*s%s\n", symbol, len(r.Name)+padding, r.Name, r.Message)
		}

		if r.Detail != "" {
			mutedFn("    %s", r.Detail)
		}
	}
}

// String returns the status name used in structured output.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Symbol returns the status symbol for display.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return checkMark
	case StatusWarn:
		return warningMark
	case StatusFail:
		return xMark
	default:
		return "?"
	}
}

const (
	checkMark   = "\u2713" // ✓
	xMark       = "\u2717" // ✗
	warningMark = "\u26A0" // ⚠
)

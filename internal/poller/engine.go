// Package poller is the reconciliation engine: one cycle authenticates,
// fetches active, recent and watched builds plus pull requests, diffs
// against the previous cycle to notify completions, writes the cache and
// schedules the next cycle.
//
// Cycles never overlap. Triggers that arrive while a cycle runs wait for
// it and then share a single follow-up cycle.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/musher-dev/adoc/internal/ado"
	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/notify"
	"github.com/musher-dev/adoc/internal/observability"
	"github.com/musher-dev/adoc/internal/store"
)

// TimerName is the single recurring timer the engine re-arms.
const TimerName = "ado-companion-poll"

// authFailureMessage is shown for both 401 and 403 responses.
const authFailureMessage = "Your PAT is invalid or has expired."

// API is the subset of *ado.Client a cycle uses.
type API interface {
	ConnectionData(ctx context.Context) (*ado.ConnectionData, error)
	Projects(ctx context.Context) ([]ado.Project, error)
	ActiveBuilds(ctx context.Context, project, requestedFor string) ([]ado.Build, error)
	RecentBuilds(ctx context.Context, project string, minFinishTime time.Time, requestedFor string) ([]ado.Build, error)
	Build(ctx context.Context, project string, id int) (*ado.Build, error)
	Timeline(ctx context.Context, project string, id int) (*ado.Timeline, error)
	ActivePullRequests(ctx context.Context, project, creatorID string) ([]ado.PullRequest, error)
	Endpoints() ado.Endpoints
}

// ClientFactory builds an API client for the current settings.
type ClientFactory func(s *config.Settings) API

// NewADOClient is the production ClientFactory.
func NewADOClient(s *config.Settings) API {
	return ado.New(s.Organization, s.PAT,
		ado.WithBaseURL(s.APIBaseURL),
		ado.WithAPIVersion(s.APIVersion),
	)
}

// BookmarkSyncer reconciles the bookmark folder with pull requests.
type BookmarkSyncer interface {
	Sync(ctx context.Context, prs []model.PullRequest, folderName string) error
}

// BookmarkFactory returns the syncer for the current settings.
type BookmarkFactory func(s *config.Settings) (BookmarkSyncer, error)

// Badge shows the active build count.
type Badge interface {
	SetBadge(ctx context.Context, text string) error
}

// Scheduler re-arms a named one-shot timer, replacing any pending one.
type Scheduler interface {
	Schedule(name string, after time.Duration)
}

// Options wires an Engine. Settings, Cache and NewClient are required.
type Options struct {
	Settings  func() (config.Settings, error)
	Cache     store.ReadWriter
	NewClient ClientFactory
	Bookmarks BookmarkFactory
	Notifier  notify.Notifier
	Badge     Badge
	Scheduler Scheduler
	Now       func() time.Time
}

// Engine runs poll cycles.
type Engine struct {
	settings  func() (config.Settings, error)
	cache     store.ReadWriter
	newClient ClientFactory
	bookmarks BookmarkFactory
	notifier  notify.Notifier
	badge     Badge
	scheduler Scheduler
	now       func() time.Time

	queue *queue
	state atomic.Value
}

// New creates an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		settings:  opts.Settings,
		cache:     opts.Cache,
		newClient: opts.NewClient,
		bookmarks: opts.Bookmarks,
		notifier:  opts.Notifier,
		badge:     opts.Badge,
		scheduler: opts.Scheduler,
		now:       opts.Now,
		queue:     newQueue(),
	}

	if e.newClient == nil {
		e.newClient = NewADOClient
	}

	if e.notifier == nil {
		e.notifier = notify.Log{}
	}

	if e.badge == nil {
		e.badge = CacheBadge{Cache: opts.Cache}
	}

	if e.now == nil {
		e.now = time.Now
	}

	e.state.Store(StateIdle)

	return e
}

// State returns the step the current cycle is in.
func (e *Engine) State() State {
	s, _ := e.state.Load().(State)
	return s
}

// Result summarizes one cycle.
type Result struct {
	// Skipped is set when organization or PAT is missing.
	Skipped bool `json:"skipped"`
	// Error is the persisted error state of a failed cycle.
	Error        *model.ErrorState `json:"error,omitempty"`
	Projects     int               `json:"projects"`
	Active       int               `json:"active"`
	Recent       int               `json:"recent"`
	PullRequests int               `json:"pullRequests"`
	Notified     int               `json:"notified"`
	// NextPoll is zero when the cycle did not reach scheduling.
	NextPoll time.Duration `json:"nextPoll"`
}

// RunCycle runs one cycle, waiting for any cycle already in flight. It only
// returns an error when ctx ends while waiting.
func (e *Engine) RunCycle(ctx context.Context) (Result, error) {
	return e.queue.run(ctx, e.cycle)
}

func (e *Engine) setState(ctx context.Context, s State) {
	e.state.Store(s)
	observability.SpanEvent(ctx, "state", "poll.state", string(s))
}

func (e *Engine) cycle(ctx context.Context) Result {
	ctx, span := observability.Tracer("adoc.poller").Start(ctx, "poll.cycle")
	defer span.End()

	logger := observability.FromContext(ctx).With(slog.String("component", "poller"))
	ctx = observability.WithLogger(ctx, logger)

	defer e.setState(ctx, StateIdle)

	settings, err := e.settings()
	if err != nil {
		logger.Error("Settings unavailable", slog.String("error", err.Error()))
		observability.FailSpan(span, err)

		return Result{Error: e.recordError(ctx, model.ErrorUnknown, err.Error())}
	}

	if err := store.Save(e.cache, store.KeyConfig, settings); err != nil {
		logger.Warn("Config mirror not written", slog.String("error", err.Error()))
	}

	if !settings.Configured() {
		logger.Debug("Poll skipped: not configured", slog.Any("missing", settings.Missing()))
		return Result{Skipped: true}
	}

	span.SetAttributes(attribute.String("ado.organization", settings.Organization))

	api := e.newClient(&settings)

	e.setState(ctx, StateAuthenticating)

	identity, errState := e.authenticate(ctx, api)
	if errState != nil {
		observability.FailSpan(span, fmt.Errorf("%s: %s", errState.Type, errState.Message))
		return Result{Error: errState}
	}

	res, err := e.reconcile(ctx, api, &settings, identity)
	if err != nil {
		logger.Error("Poll cycle failed", slog.String("error", err.Error()))
		observability.FailSpan(span, err)

		res.Error = e.recordError(ctx, model.ErrorNetwork, err.Error())

		return res
	}

	logger.Info("Poll cycle finished",
		slog.Int("active", res.Active),
		slog.Int("recent", res.Recent),
		slog.Int("pull_requests", res.PullRequests),
		slog.Duration("next_poll", res.NextPoll),
	)

	return res
}

// authenticate resolves the user. Errors are persisted and returned as the
// error state; no other step runs after a failure.
func (e *Engine) authenticate(ctx context.Context, api API) (*model.Identity, *model.ErrorState) {
	logger := observability.FromContext(ctx)

	data, err := api.ConnectionData(ctx)
	if err != nil {
		switch ado.StatusCode(err) {
		case 401:
			e.clearIdentity(ctx)
			return nil, e.recordError(ctx, model.ErrorPATExpired, authFailureMessage)
		case 403:
			e.clearIdentity(ctx)
			return nil, e.recordError(ctx, model.ErrorAuthFailed, authFailureMessage)
		default:
			logger.Warn("Connection check failed", slog.String("error", err.Error()))
			return nil, e.recordError(ctx, model.ErrorNetwork, err.Error())
		}
	}

	user := data.AuthenticatedUser
	identity := &model.Identity{
		ID:          user.ID,
		DisplayName: user.ProviderDisplayName,
		UniqueName:  user.AccountName(),
	}

	if err := store.Save(e.cache, store.KeyUserIdentity, identity); err != nil {
		logger.Warn("Identity not written", slog.String("error", err.Error()))
	}

	if err := store.Save[*model.ErrorState](e.cache, store.KeyErrorState, nil); err != nil {
		logger.Warn("Error state not cleared", slog.String("error", err.Error()))
	}

	return identity, nil
}

func (e *Engine) clearIdentity(ctx context.Context) {
	if err := store.Save[*model.Identity](e.cache, store.KeyUserIdentity, nil); err != nil {
		observability.FromContext(ctx).Warn("Identity not cleared", slog.String("error", err.Error()))
	}
}

func (e *Engine) recordError(ctx context.Context, kind model.ErrorType, message string) *model.ErrorState {
	state := &model.ErrorState{Type: kind, Message: message, Timestamp: e.now().UTC()}

	if err := store.Save(e.cache, store.KeyErrorState, state); err != nil {
		observability.FromContext(ctx).Error("Error state not written", slog.String("error", err.Error()))
	}

	return state
}

// reconcile runs everything after authentication. A returned error is
// recorded as a network error by the caller; panics are turned into one.
func (e *Engine) reconcile(ctx context.Context, api API, settings *config.Settings, identity *model.Identity) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panic: %v", r)
		}
	}()

	logger := observability.FromContext(ctx)
	endpoints := api.Endpoints()
	now := e.now()

	e.setState(ctx, StateResolvingProjects)

	projects, err := e.resolveProjects(ctx, api, settings)
	if err != nil {
		return res, err
	}

	res.Projects = len(projects)

	previous, _, err := store.Load(e.cache, store.KeyCachedBuilds)
	if err != nil {
		logger.Warn("Previous active builds unreadable", slog.String("error", err.Error()))
	}

	e.setState(ctx, StateFetchingActive)

	active := e.fetchActive(ctx, api, endpoints, projects, identity.ID)

	e.setState(ctx, StateFetchingRecent)

	recent := e.fetchRecent(ctx, api, endpoints, projects, identity.ID, now.Add(-settings.RecentWindow()))

	e.setState(ctx, StateFetchingWatched)

	active, recent, err = e.mergeWatched(ctx, api, endpoints, settings, active, recent, now)
	if err != nil {
		return res, err
	}

	active = dropCompleted(active, recent)
	sortByQueueTime(active)

	if err := store.Save(e.cache, store.KeyCachedBuilds, active); err != nil {
		return res, fmt.Errorf("save active builds: %w", err)
	}

	if err := store.Save(e.cache, store.KeyCachedRecentBuilds, recent); err != nil {
		return res, fmt.Errorf("save recent builds: %w", err)
	}

	res.Active, res.Recent = len(active), len(recent)

	if settings.EnableNotifications && len(previous) > 0 {
		e.setState(ctx, StateNotifying)
		res.Notified = e.notifyCompleted(ctx, previous, active, recent)
	}

	if settings.ShowPullRequests {
		e.setState(ctx, StateFetchingPRs)

		prs := e.fetchPullRequests(ctx, api, endpoints, projects, identity.ID)
		if err := store.Save(e.cache, store.KeyCachedPRs, prs); err != nil {
			return res, fmt.Errorf("save pull requests: %w", err)
		}

		res.PullRequests = len(prs)

		if settings.EnableBookmarks && e.bookmarks != nil {
			e.setState(ctx, StateSyncingBookmarks)
			e.syncBookmarks(ctx, settings, prs)
		}
	}

	e.setState(ctx, StatePersisting)

	if err := store.Save(e.cache, store.KeyLastUpdated, now.UTC()); err != nil {
		return res, fmt.Errorf("save last updated: %w", err)
	}

	e.setState(ctx, StateSchedulingNext)

	res.NextPoll = settings.IdleInterval()
	if len(active) > 0 {
		res.NextPoll = settings.ActiveInterval()
	}

	if e.scheduler != nil {
		e.scheduler.Schedule(TimerName, res.NextPoll)
	}

	badge := ""
	if len(active) > 0 {
		badge = strconv.Itoa(len(active))
	}

	if err := e.badge.SetBadge(ctx, badge); err != nil {
		return res, fmt.Errorf("set badge: %w", err)
	}

	return res, nil
}

func (e *Engine) resolveProjects(ctx context.Context, api API, settings *config.Settings) ([]string, error) {
	if !settings.AllProjects() {
		return settings.Projects, nil
	}

	projects, err := api.Projects(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve projects: %w", err)
	}

	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.Name)
	}

	return names, nil
}

func (e *Engine) syncBookmarks(ctx context.Context, settings *config.Settings, prs []model.PullRequest) {
	logger := observability.FromContext(ctx)

	syncer, err := e.bookmarks(settings)
	if err != nil {
		logger.Warn("Bookmark sync unavailable", slog.String("error", err.Error()))
		return
	}

	if err := syncer.Sync(ctx, prs, settings.BookmarkFolderName); err != nil {
		logger.Warn("Bookmark sync failed", slog.String("error", err.Error()))
	}
}

// CacheBadge stores the badge under the badgeText cache key.
type CacheBadge struct {
	Cache store.Writer
}

// SetBadge implements Badge.
func (b CacheBadge) SetBadge(_ context.Context, text string) error {
	return store.Save(b.Cache, store.KeyBadgeText, text)
}

package poller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/store"
)

// ErrForeignOrganization is returned when tracking a build outside the
// configured organization.
var ErrForeignOrganization = errors.New("build belongs to another organization")

// TrackStatus answers whether a build page should offer tracking.
type TrackStatus struct {
	AlreadyTracked  bool `json:"alreadyTracked"`
	IsConfiguredOrg bool `json:"isConfiguredOrg"`
}

// Refresh runs a cycle now.
func (e *Engine) Refresh(ctx context.Context) (Result, error) {
	return e.RunCycle(ctx)
}

// ConfigChanged re-runs a cycle with freshly loaded settings.
func (e *Engine) ConfigChanged(ctx context.Context) (Result, error) {
	return e.RunCycle(ctx)
}

// CheckBuildTracked reports whether build id is already in the active list
// or on the watch list, and whether org is the configured organization.
func (e *Engine) CheckBuildTracked(_ context.Context, org, _ string, id int) (TrackStatus, error) {
	settings, err := e.settings()
	if err != nil {
		return TrackStatus{}, err
	}

	status := TrackStatus{
		IsConfiguredOrg: settings.Organization != "" && strings.EqualFold(org, settings.Organization),
	}

	active, _, err := store.Load(e.cache, store.KeyCachedBuilds)
	if err != nil {
		return status, fmt.Errorf("load active builds: %w", err)
	}

	watched, _, err := store.Load(e.cache, store.KeyWatchedBuilds)
	if err != nil {
		return status, fmt.Errorf("load watch list: %w", err)
	}

	status.AlreadyTracked = slices.ContainsFunc(active, func(b model.Build) bool { return b.ID == id }) ||
		slices.ContainsFunc(watched, func(w model.WatchedBuild) bool { return w.BuildID == id })

	return status, nil
}

// TrackBuild adds a build to the watch list, then runs a cycle. Tracking an
// already watched build renews its expiry.
func (e *Engine) TrackBuild(ctx context.Context, org, project string, id int) (Result, error) {
	settings, err := e.settings()
	if err != nil {
		return Result{}, err
	}

	if !strings.EqualFold(org, settings.Organization) {
		return Result{}, fmt.Errorf("track build %d in %s: %w", id, org, ErrForeignOrganization)
	}

	watched, _, err := store.Load(e.cache, store.KeyWatchedBuilds)
	if err != nil {
		return Result{}, fmt.Errorf("load watch list: %w", err)
	}

	watched = slices.DeleteFunc(watched, func(w model.WatchedBuild) bool { return w.BuildID == id })
	watched = append(watched, model.NewWatchedBuild(org, project, id, e.now().UTC()))

	if err := store.Save(e.cache, store.KeyWatchedBuilds, watched); err != nil {
		return Result{}, fmt.Errorf("save watch list: %w", err)
	}

	return e.RunCycle(ctx)
}

// UntrackBuild removes a build from the watch list, then runs a cycle.
func (e *Engine) UntrackBuild(ctx context.Context, id int) (Result, error) {
	watched, _, err := store.Load(e.cache, store.KeyWatchedBuilds)
	if err != nil {
		return Result{}, fmt.Errorf("load watch list: %w", err)
	}

	kept := slices.DeleteFunc(slices.Clone(watched), func(w model.WatchedBuild) bool { return w.BuildID == id })
	if len(kept) != len(watched) {
		if err := store.Save(e.cache, store.KeyWatchedBuilds, kept); err != nil {
			return Result{}, fmt.Errorf("save watch list: %w", err)
		}
	}

	return e.RunCycle(ctx)
}

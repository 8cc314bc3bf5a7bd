package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/model"
)

// LocalArea is the area the daemon and the presentation layer share.
const LocalArea = "local"

// Key is a cache key bound to the type stored under it.
type Key[T any] string

// Cache keys. Together they are the whole durable contract with the
// presentation layer.
const (
	KeyConfig             Key[config.Settings]      = "config"
	KeyCachedBuilds       Key[[]model.Build]        = "cachedBuilds"
	KeyCachedRecentBuilds Key[[]model.Build]        = "cachedRecentBuilds"
	KeyCachedPRs          Key[[]model.PullRequest]  = "cachedPRs"
	KeyLastUpdated        Key[time.Time]            = "lastUpdated"
	KeyErrorState         Key[*model.ErrorState]    = "errorState"
	KeyUserIdentity       Key[*model.Identity]      = "userIdentity"
	KeyManagedBookmarkIDs Key[[]string]             = "managedBookmarkIds"
	KeyWatchedBuilds      Key[[]model.WatchedBuild] = "watchedBuilds"
	KeyBadgeText          Key[string]               = "badgeText"
)

// Load decodes the value stored under k. The boolean is false, and the
// zero value is returned, when the key has never been written.
func Load[T any](r Reader, k Key[T]) (T, bool, error) {
	var out T

	raw, ok, err := r.Get(string(k))
	if err != nil || !ok {
		return out, false, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", k, err)
	}

	return out, true, nil
}

// Save encodes v under k.
func Save[T any](w Writer, k Key[T], v T) error {
	return w.Set(string(k), v)
}

// Package bookmarks keeps a bookmark folder in step with the user's open
// pull requests.
//
// The Syncer only ever removes bookmarks it created itself; their ids are
// persisted under the managedBookmarkIds cache key. Bookmarks added by hand,
// even inside the managed folder, are left alone.
package bookmarks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/observability"
	"github.com/musher-dev/adoc/internal/store"
)

// Node is one entry of a bookmark tree. Folders have no URL.
type Node struct {
	ID    string
	Title string
	URL   string
}

// IsFolder reports whether the node is a folder.
func (n Node) IsFolder() bool {
	return n.URL == ""
}

// Tree is the bookmark hierarchy the Syncer edits.
type Tree interface {
	// RootID is the well-known container the managed folder lives in.
	RootID() string
	Children(ctx context.Context, folderID string) ([]Node, error)
	// Create adds a bookmark, or a folder when url is empty.
	Create(ctx context.Context, parentID, title, url string) (Node, error)
	Remove(ctx context.Context, id string) error
}

// Syncer reconciles a folder against a pull request set.
type Syncer struct {
	tree  Tree
	cache store.ReadWriter
}

// NewSyncer creates a Syncer over tree, keeping owned ids in cache.
func NewSyncer(tree Tree, cache store.ReadWriter) *Syncer {
	return &Syncer{tree: tree, cache: cache}
}

// Title is the bookmark title for a pull request.
func Title(pr *model.PullRequest) string {
	return fmt.Sprintf("%s — %s/%s", pr.Title, pr.ProjectName, pr.RepositoryName)
}

// Sync makes folderName contain a bookmark for every pull request and drops
// owned bookmarks whose pull request is gone. The first failing tree call
// aborts the sync; running it again converges.
func (s *Syncer) Sync(ctx context.Context, prs []model.PullRequest, folderName string) error {
	logger := observability.FromContext(ctx).With(slog.String("component", "bookmarks"))

	folderID, err := s.folder(ctx, folderName)
	if err != nil {
		return err
	}

	owned, _, err := store.Load(s.cache, store.KeyManagedBookmarkIDs)
	if err != nil {
		return fmt.Errorf("load managed bookmark ids: %w", err)
	}

	children, err := s.tree.Children(ctx, folderID)
	if err != nil {
		return fmt.Errorf("list bookmark folder: %w", err)
	}

	wanted := make(map[string]bool, len(prs))
	for i := range prs {
		wanted[prs[i].URL] = true
	}

	present := make(map[string]bool, len(children))
	live := make(map[string]bool, len(children))

	for _, child := range children {
		live[child.ID] = true

		if !child.IsFolder() {
			present[child.URL] = true
		}
	}

	var removed []string

	// Persist whatever was applied, even when a call fails midway. Ids of
	// bookmarks deleted by hand are dropped.
	save := func(created []string) error {
		next := make([]string, 0, len(owned)+len(created))
		for _, id := range owned {
			if live[id] && !slices.Contains(removed, id) {
				next = append(next, id)
			}
		}

		next = append(next, created...)

		if err := store.Save(s.cache, store.KeyManagedBookmarkIDs, next); err != nil {
			return fmt.Errorf("save managed bookmark ids: %w", err)
		}

		return nil
	}

	for _, child := range children {
		if child.IsFolder() || wanted[child.URL] || !slices.Contains(owned, child.ID) {
			continue
		}

		if err := s.tree.Remove(ctx, child.ID); err != nil {
			_ = save(nil)
			return fmt.Errorf("remove bookmark %s: %w", child.ID, err)
		}

		removed = append(removed, child.ID)
	}

	var created []string

	for i := range prs {
		pr := &prs[i]
		if present[pr.URL] {
			continue
		}

		node, err := s.tree.Create(ctx, folderID, Title(pr), pr.URL)
		if err != nil {
			_ = save(created)
			return fmt.Errorf("create bookmark for PR %d: %w", pr.ID, err)
		}

		present[pr.URL] = true
		created = append(created, node.ID)
	}

	if len(removed) > 0 || len(created) > 0 {
		logger.Info("Bookmarks synced", slog.Int("created", len(created)), slog.Int("removed", len(removed)))
	}

	return save(created)
}

// folder finds the folder titled name directly under the root, creating it
// when missing. Bookmarks with the same title do not match.
func (s *Syncer) folder(ctx context.Context, name string) (string, error) {
	root := s.tree.RootID()

	children, err := s.tree.Children(ctx, root)
	if err != nil {
		return "", fmt.Errorf("list bookmark root: %w", err)
	}

	for _, child := range children {
		if child.IsFolder() && child.Title == name {
			return child.ID, nil
		}
	}

	node, err := s.tree.Create(ctx, root, name, "")
	if err != nil {
		return "", fmt.Errorf("create bookmark folder %q: %w", name, err)
	}

	return node.ID, nil
}

package bookmarks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/musher-dev/adoc/internal/store"
)

const (
	// ChromeOtherRoot is the "Other bookmarks" container.
	ChromeOtherRoot = "other"

	// Chromium timestamps count microseconds from 1601-01-01 UTC.
	windowsEpochOffset = 11644473600 * int64(time.Second/time.Microsecond)
)

// ErrNodeNotFound is returned for an id that is not in the file.
var ErrNodeNotFound = errors.New("bookmark node not found")

// chromeNode is one node of a Chromium "Bookmarks" file. Keys adoc does not
// model are kept in extra and written back unchanged.
type chromeNode struct {
	Children     []*chromeNode     `json:"children,omitempty"`
	DateAdded    string            `json:"date_added,omitempty"`
	DateLastUsed string            `json:"date_last_used,omitempty"`
	DateModified string            `json:"date_modified,omitempty"`
	GUID         string            `json:"guid,omitempty"`
	ID           string            `json:"id"`
	MetaInfo     map[string]string `json:"meta_info,omitempty"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	URL          string            `json:"url,omitempty"`

	extra map[string]json.RawMessage
}

var chromeNodeKeys = []string{
	"children", "date_added", "date_last_used", "date_modified", "guid",
	"id", "meta_info", "name", "type", "url",
}

func (n *chromeNode) UnmarshalJSON(data []byte) error {
	type plain chromeNode

	if err := json.Unmarshal(data, (*plain)(n)); err != nil {
		return err
	}

	extra, err := unknownKeys(data, chromeNodeKeys)
	if err != nil {
		return err
	}

	n.extra = extra

	return nil
}

func (n *chromeNode) MarshalJSON() ([]byte, error) {
	type plain chromeNode

	return withUnknownKeys((*plain)(n), n.extra)
}

// chromeFile is the whole document. Roots holds the node-shaped entries of
// "roots"; anything else found there (older profiles keep a
// sync_transaction_version string) is carried in rootExtra.
type chromeFile struct {
	Checksum     string                 `json:"checksum,omitempty"`
	Roots        map[string]*chromeNode `json:"-"`
	SyncMetadata string                 `json:"sync_metadata,omitempty"`
	Version      int                    `json:"version"`

	rootExtra map[string]json.RawMessage
	extra     map[string]json.RawMessage
}

var chromeFileKeys = []string{"checksum", "roots", "sync_metadata", "version"}

func (f *chromeFile) UnmarshalJSON(data []byte) error {
	type plain chromeFile

	var doc struct {
		*plain

		Roots map[string]json.RawMessage `json:"roots"`
	}

	doc.plain = (*plain)(f)

	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	f.Roots = make(map[string]*chromeNode, len(doc.Roots))
	f.rootExtra = make(map[string]json.RawMessage)

	for key, raw := range doc.Roots {
		if len(raw) == 0 || raw[0] != '{' {
			f.rootExtra[key] = raw
			continue
		}

		var node chromeNode
		if err := json.Unmarshal(raw, &node); err != nil {
			return fmt.Errorf("root %q: %w", key, err)
		}

		f.Roots[key] = &node
	}

	extra, err := unknownKeys(data, chromeFileKeys)
	if err != nil {
		return err
	}

	f.extra = extra

	return nil
}

func (f *chromeFile) MarshalJSON() ([]byte, error) {
	type plain chromeFile

	roots := make(map[string]any, len(f.Roots)+len(f.rootExtra))
	for key, raw := range f.rootExtra {
		roots[key] = raw
	}

	for key, node := range f.Roots {
		roots[key] = node
	}

	doc := struct {
		*plain

		Roots map[string]any `json:"roots"`
	}{plain: (*plain)(f), Roots: roots}

	return withUnknownKeys(doc, f.extra)
}

// unknownKeys returns the members of the JSON object data whose keys are
// not in known.
func unknownKeys(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}

	for _, key := range known {
		delete(all, key)
	}

	if len(all) == 0 {
		return nil, nil
	}

	return all, nil
}

// withUnknownKeys encodes v and adds the extra members it does not set.
func withUnknownKeys(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}

	for key, raw := range extra {
		if _, ok := merged[key]; !ok {
			merged[key] = raw
		}
	}

	return json.Marshal(merged)
}

// ChromeFile is a Tree over a Chromium-family profile "Bookmarks" file.
// Every call re-reads the file and writes it back atomically. The browser
// keeps its own copy in memory, so edits made while it runs may be
// overwritten when it next saves.
type ChromeFile struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewChromeFile opens the bookmarks file at path.
func NewChromeFile(path string) *ChromeFile {
	return &ChromeFile{path: path, now: time.Now}
}

// RootID implements Tree.
func (c *ChromeFile) RootID() string {
	return ChromeOtherRoot
}

// Children implements Tree.
func (c *ChromeFile) Children(_ context.Context, folderID string) ([]Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil {
		return nil, err
	}

	folder := f.find(folderID)
	if folder == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, folderID)
	}

	nodes := make([]Node, 0, len(folder.Children))
	for _, child := range folder.Children {
		nodes = append(nodes, Node{ID: child.ID, Title: child.Name, URL: child.URL})
	}

	return nodes, nil
}

// Create implements Tree.
func (c *ChromeFile) Create(_ context.Context, parentID, title, url string) (Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil {
		return Node{}, err
	}

	parent := f.find(parentID)
	if parent == nil || parent.Type != "folder" {
		return Node{}, fmt.Errorf("%w: folder %s", ErrNodeNotFound, parentID)
	}

	stamp := chromeTime(c.now())
	node := &chromeNode{
		DateAdded: stamp,
		GUID:      uuid.NewString(),
		ID:        strconv.Itoa(f.maxID() + 1),
		Name:      title,
		Type:      "url",
		URL:       url,
	}

	if url == "" {
		node.Type = "folder"
		node.DateModified = stamp
		node.Children = []*chromeNode{}
	}

	parent.Children = append(parent.Children, node)
	parent.DateModified = stamp

	if err := c.save(f); err != nil {
		return Node{}, err
	}

	return Node{ID: node.ID, Title: node.Name, URL: node.URL}, nil
}

// Remove implements Tree.
func (c *ChromeFile) Remove(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load()
	if err != nil {
		return err
	}

	parent, index := f.parentOf(id)
	if parent == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	parent.Children = append(parent.Children[:index], parent.Children[index+1:]...)
	parent.DateModified = chromeTime(c.now())

	return c.save(f)
}

func (c *ChromeFile) load() (*chromeFile, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read bookmarks file: %w", err)
	}

	var f chromeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode bookmarks file: %w", err)
	}

	if f.Roots[ChromeOtherRoot] == nil {
		return nil, fmt.Errorf("bookmarks file has no %q root", ChromeOtherRoot)
	}

	return &f, nil
}

// save drops the checksum; Chromium recomputes a missing one on load.
func (c *ChromeFile) save(f *chromeFile) error {
	f.Checksum = ""

	data, err := json.MarshalIndent(f, "", "   ")
	if err != nil {
		return fmt.Errorf("encode bookmarks file: %w", err)
	}

	if err := store.WriteFileAtomic(c.path, data); err != nil {
		return fmt.Errorf("write bookmarks file: %w", err)
	}

	return nil
}

// find resolves a root key ("other") or a node id.
func (f *chromeFile) find(id string) *chromeNode {
	if root, ok := f.Roots[id]; ok {
		return root
	}

	var found *chromeNode

	f.walk(func(_ *chromeNode, n *chromeNode, _ int) bool {
		if n.ID == id {
			found = n
			return false
		}

		return true
	})

	return found
}

func (f *chromeFile) parentOf(id string) (*chromeNode, int) {
	var (
		parent *chromeNode
		index  int
	)

	f.walk(func(p *chromeNode, n *chromeNode, i int) bool {
		if p != nil && n.ID == id {
			parent, index = p, i
			return false
		}

		return true
	})

	return parent, index
}

func (f *chromeFile) maxID() int {
	highest := 0

	f.walk(func(_ *chromeNode, n *chromeNode, _ int) bool {
		if id, err := strconv.Atoi(n.ID); err == nil && id > highest {
			highest = id
		}

		return true
	})

	return highest
}

// walk visits every node depth-first, roots in a stable order, until visit
// returns false. Roots are visited with a nil parent.
func (f *chromeFile) walk(visit func(parent, node *chromeNode, index int) bool) {
	var rec func(parent, node *chromeNode, index int) bool

	rec = func(parent, node *chromeNode, index int) bool {
		if !visit(parent, node, index) {
			return false
		}

		for i, child := range node.Children {
			if !rec(node, child, i) {
				return false
			}
		}

		return true
	}

	for _, key := range []string{"bookmark_bar", ChromeOtherRoot, "synced"} {
		if root := f.Roots[key]; root != nil && !rec(nil, root, 0) {
			return
		}
	}
}

func chromeTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro()+windowsEpochOffset, 10)
}

// Package store is the persistent key-value cache shared by the poller and
// the presentation layer.
//
// A Store is a directory; each Area is one JSON object file inside it
// (<area>.json) mapping keys to values. Every write re-reads the file first,
// so two processes writing different keys of the same area do not clobber
// each other; writes to the same key are last-write-wins. Change listeners
// are scoped to one area and fire with the new raw value of a key.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

const fileExt = ".json"

// Reader reads raw values by key.
type Reader interface {
	Get(key string) (json.RawMessage, bool, error)
}

// Writer stores a value under a key.
type Writer interface {
	Set(key string, value any) error
}

// ReadWriter is the cache contract the poller depends on.
type ReadWriter interface {
	Reader
	Writer
}

// Store is a directory of areas.
type Store struct {
	dir string

	mu    sync.Mutex
	areas map[string]*Area
}

// Open opens (creating if needed) the store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &Store{dir: dir, areas: make(map[string]*Area)}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Area returns the named area. Repeated calls return the same value.
func (s *Store) Area(name string) *Area {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.areas[name]; ok {
		return a
	}

	a := &Area{
		name:      name,
		path:      filepath.Join(s.dir, name+fileExt),
		listeners: make(map[string]map[int]func(json.RawMessage)),
		watchers:  make(map[int]func(string, json.RawMessage)),
	}
	s.areas[name] = a

	return a
}

func (s *Store) lookup(fileName string) *Area {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.areas {
		if filepath.Base(a.path) == fileName {
			return a
		}
	}

	return nil
}

// Area is a single storage area.
type Area struct {
	name string
	path string

	mu        sync.Mutex
	values    map[string]json.RawMessage
	nextID    int
	listeners map[string]map[int]func(json.RawMessage)
	watchers  map[int]func(string, json.RawMessage)
}

// change is one key whose stored value differs from what the area held.
type change struct {
	key   string
	value json.RawMessage
}

// Name returns the area name.
func (a *Area) Name() string {
	return a.name
}

// Get returns the raw value of key. The boolean is false when the key has
// never been written.
func (a *Area) Get(key string) (json.RawMessage, bool, error) {
	a.mu.Lock()
	changes, err := a.syncLocked()
	v, ok := a.values[key]
	a.mu.Unlock()

	a.notify(changes)

	if err != nil {
		return nil, false, err
	}

	return v, ok, nil
}

// GetMany returns the raw values of the keys that exist.
func (a *Area) GetMany(keys ...string) (map[string]json.RawMessage, error) {
	a.mu.Lock()
	changes, err := a.syncLocked()

	out := make(map[string]json.RawMessage, len(keys))

	for _, k := range keys {
		if v, ok := a.values[k]; ok {
			out[k] = v
		}
	}
	a.mu.Unlock()

	a.notify(changes)

	if err != nil {
		return nil, err
	}

	return out, nil
}

// Snapshot returns every key of the area.
func (a *Area) Snapshot() (map[string]json.RawMessage, error) {
	a.mu.Lock()
	changes, err := a.syncLocked()
	out := maps.Clone(a.values)
	a.mu.Unlock()

	a.notify(changes)

	if err != nil {
		return nil, err
	}

	if out == nil {
		out = map[string]json.RawMessage{}
	}

	return out, nil
}

// Set encodes value as JSON, stores it under key and notifies listeners.
func (a *Area) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", a.name, key, err)
	}

	a.mu.Lock()

	changes, err := a.syncLocked()
	if err != nil {
		a.mu.Unlock()
		a.notify(changes)

		return err
	}

	a.values[key] = raw

	data, err := json.Marshal(a.values)
	if err != nil {
		a.mu.Unlock()
		a.notify(changes)

		return fmt.Errorf("encode %s: %w", a.name, err)
	}

	if err := WriteFileAtomic(a.path, data); err != nil {
		a.mu.Unlock()
		a.notify(changes)

		return fmt.Errorf("persist %s/%s: %w", a.name, key, err)
	}
	a.mu.Unlock()

	a.notify(append(changes, change{key: key, value: raw}))

	return nil
}

// OnChange registers fn to receive the new value of key after every write
// to it. The returned function unregisters fn.
func (a *Area) OnChange(key string, fn func(json.RawMessage)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++

	if a.listeners[key] == nil {
		a.listeners[key] = make(map[int]func(json.RawMessage))
	}

	a.listeners[key][id] = fn

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		delete(a.listeners[key], id)
	}
}

// OnAnyChange registers fn for writes to any key of the area.
func (a *Area) OnAnyChange(fn func(key string, value json.RawMessage)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++
	a.watchers[id] = fn

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		delete(a.watchers, id)
	}
}

// Reload re-reads the area file and notifies listeners of keys whose value
// changed on disk.
func (a *Area) Reload() error {
	a.mu.Lock()
	changes, err := a.syncLocked()
	a.mu.Unlock()

	a.notify(changes)

	return err
}

// syncLocked merges the file contents into memory and reports the keys whose
// value differs. Keys missing from the file keep their in-memory value.
func (a *Area) syncLocked() ([]change, error) {
	if a.values == nil {
		a.values = make(map[string]json.RawMessage)
	}

	data, err := os.ReadFile(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a.path, err)
	}

	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, fmt.Errorf("decode %s: %w", a.path, err)
	}

	var changes []change

	for _, key := range slices.Sorted(maps.Keys(onDisk)) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, onDisk[key]); err != nil {
			return changes, fmt.Errorf("decode %s key %s: %w", a.path, key, err)
		}

		raw := json.RawMessage(buf.Bytes())
		if prev, ok := a.values[key]; ok && bytes.Equal(prev, raw) {
			continue
		}

		a.values[key] = raw
		changes = append(changes, change{key: key, value: raw})
	}

	return changes, nil
}

func (a *Area) notify(changes []change) {
	if len(changes) == 0 {
		return
	}

	type call struct {
		fns   []func(json.RawMessage)
		anyFn []func(string, json.RawMessage)
	}

	a.mu.Lock()

	calls := make([]call, len(changes))
	for i, c := range changes {
		for _, id := range slices.Sorted(maps.Keys(a.listeners[c.key])) {
			calls[i].fns = append(calls[i].fns, a.listeners[c.key][id])
		}

		for _, id := range slices.Sorted(maps.Keys(a.watchers)) {
			calls[i].anyFn = append(calls[i].anyFn, a.watchers[id])
		}
	}
	a.mu.Unlock()

	for i, c := range changes {
		for _, fn := range calls[i].fns {
			fn(c.value)
		}

		for _, fn := range calls[i].anyFn {
			fn(c.key, c.value)
		}
	}
}

// WriteFileAtomic replaces path with data through a temp file and rename,
// so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmp := tmpFile.Name()
	if _, writeErr := tmpFile.Write(data); writeErr != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("write temp file: %w", writeErr)
	}

	if closeErr := tmpFile.Close(); closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", closeErr)
	}

	if err := os.Rename(tmp, path); err != nil {
		// Windows refuses to rename over an existing file.
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			_ = os.Remove(tmp)
			return fmt.Errorf("remove existing file: %w", removeErr)
		}

		if retryErr := os.Rename(tmp, path); retryErr != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("replace file: %w", retryErr)
		}
	}

	return nil
}

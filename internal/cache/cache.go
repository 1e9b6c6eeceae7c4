package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// schemaVersion guards the on-disk layout. A mismatch triggers a cold
// start rather than an attempt to migrate.
const schemaVersion = 1

// Kind names an entity namespace within the store.
type Kind string

const (
	KindProject     Kind = "projects"
	KindBuildConfig Kind = "buildconfigs"
	KindBuild       Kind = "builds"
)

var allKinds = []Kind{KindProject, KindBuildConfig, KindBuild}

// Freshness is the staleness state of an entry.
type Freshness int

const (
	Missing Freshness = iota
	Stale
	Fresh
)

// Entry wraps a serialized entity with its fetch metadata. Data is kept
// as raw JSON so unknown fields written by newer versions survive a
// load/flush cycle.
type Entry struct {
	Data       json.RawMessage `json:"data"`
	Scope      string          `json:"scope,omitempty"`
	Order      int             `json:"order"`
	FetchedAt  time.Time       `json:"fetched_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

// Freshness evaluates the entry's TTL against now.
func (e Entry) Freshness(now time.Time) Freshness {
	if e.TTLSeconds <= 0 {
		return Fresh
	}
	if now.After(e.FetchedAt.Add(time.Duration(e.TTLSeconds) * time.Second)) {
		return Stale
	}
	return Fresh
}

// kindFile is the durable representation of one entity kind.
type kindFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Store is a durable id-keyed entity cache shared between the UI
// goroutine (reads) and the fetch pipeline (reads and writes). All
// methods are safe for concurrent use; reads never observe a write in
// progress.
type Store struct {
	dir string
	ttl time.Duration

	mu    sync.RWMutex
	kinds map[Kind]map[string]Entry
	dirty map[Kind]bool
}

// Open loads the store from dir, creating it when absent. A missing or
// corrupt cache file is logged and treated as a cold start; Open never
// fails because of cache contents.
func Open(dir string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	s := &Store{
		dir:   dir,
		ttl:   ttl,
		kinds: make(map[Kind]map[string]Entry, len(allKinds)),
		dirty: make(map[Kind]bool, len(allKinds)),
	}
	for _, kind := range allKinds {
		s.kinds[kind] = loadKind(filepath.Join(dir, string(kind)+".json"))
	}
	return s, nil
}

func loadKind(path string) map[string]Entry {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("cache: read %s: %v (starting cold)", path, err)
		}
		return make(map[string]Entry)
	}
	var file kindFile
	if err := json.Unmarshal(raw, &file); err != nil {
		log.Printf("cache: parse %s: %v (starting cold)", path, err)
		return make(map[string]Entry)
	}
	if file.Version != schemaVersion {
		log.Printf("cache: %s has schema %d, want %d (starting cold)", path, file.Version, schemaVersion)
		return make(map[string]Entry)
	}
	if file.Entries == nil {
		return make(map[string]Entry)
	}
	return file.Entries
}

// Get returns the entry for an id, if present.
func (s *Store) Get(kind Kind, id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.kinds[kind][id]
	return entry, ok
}

// GetAs decodes the entry's payload into dest.
func (s *Store) GetAs(kind Kind, id string, dest any) error {
	entry, ok := s.Get(kind, id)
	if !ok {
		return fmt.Errorf("cache: %s %q not found", kind, id)
	}
	if err := json.Unmarshal(entry.Data, dest); err != nil {
		return fmt.Errorf("cache: decode %s %q: %w", kind, id, err)
	}
	return nil
}

// Put serializes the entity and stores it under (kind, id), replacing
// any previous entry. scope groups the entry for List (owning project
// for build configs, owning config for builds); order fixes its
// position within the scope.
func (s *Store) Put(kind Kind, id, scope string, order int, entity any, fetchedAt time.Time) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("cache: encode %s %q: %w", kind, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds[kind][id] = Entry{
		Data:       data,
		Scope:      scope,
		Order:      order,
		FetchedAt:  fetchedAt,
		TTLSeconds: int64(s.ttl / time.Second),
	}
	s.dirty[kind] = true
	return nil
}

// Delete removes an entry, typically after the server reports the
// entity gone.
func (s *Store) Delete(kind Kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kinds[kind][id]; ok {
		delete(s.kinds[kind], id)
		s.dirty[kind] = true
	}
}

// List returns the ids stored under (kind, scope) in their recorded
// order. An empty scope lists every entry of the kind.
func (s *Store) List(kind Kind, scope string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type ordered struct {
		id    string
		order int
	}
	var items []ordered
	for id, entry := range s.kinds[kind] {
		if scope != "" && entry.Scope != scope {
			continue
		}
		items = append(items, ordered{id: id, order: entry.Order})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].order != items[j].order {
			return items[i].order < items[j].order
		}
		return items[i].id < items[j].id
	})
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.id
	}
	return ids
}

// ScopeFreshness reports the staleness of a scope: Missing when it holds
// no entries, otherwise the freshness of its oldest entry.
func (s *Store) ScopeFreshness(kind Kind, scope string, now time.Time) Freshness {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := false
	freshness := Fresh
	for _, entry := range s.kinds[kind] {
		if scope != "" && entry.Scope != scope {
			continue
		}
		found = true
		if f := entry.Freshness(now); f < freshness {
			freshness = f
		}
	}
	if !found {
		return Missing
	}
	return freshness
}

// Clear drops every entry of the given kinds (all kinds when none are
// given) and removes their files on the next Flush.
func (s *Store) Clear(kinds ...Kind) {
	if len(kinds) == 0 {
		kinds = allKinds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range kinds {
		s.kinds[kind] = make(map[string]Entry)
		s.dirty[kind] = true
	}
}

// Flush persists dirty kinds to disk. Each file is written to a
// temporary name and renamed into place so a crash mid-write never
// corrupts previously valid data.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range allKinds {
		if !s.dirty[kind] {
			continue
		}
		if err := s.flushKindLocked(kind); err != nil {
			return err
		}
		s.dirty[kind] = false
	}
	return nil
}

func (s *Store) flushKindLocked(kind Kind) error {
	file := kindFile{Version: schemaVersion, Entries: s.kinds[kind]}
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", kind, err)
	}

	path := filepath.Join(s.dir, string(kind)+".json")
	tmp, err := os.CreateTemp(s.dir, string(kind)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("cache: write %s: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cache: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("cache: replace %s: %w", path, err)
	}
	return nil
}

// RemoveDir deletes the entire cache directory. Used by -clear-cache.
func RemoveDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove cache dir: %w", err)
	}
	return nil
}

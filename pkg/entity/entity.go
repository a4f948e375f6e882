// Package entity implements the Project/Shot/Job persistence layer: one
// JSON file per entity under its on-disk folder, an in-memory index by id
// and by parent id, and event propagation (CREATE/MODIFY/REMOVE/PROGRESS)
// to registered listeners. This is the concrete "document database" the
// design describes abstractly.
package entity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// EventKind tags a broadcast entity event.
type EventKind int

const (
	Create EventKind = iota
	Modify
	Remove
	Progress
)

func (k EventKind) String() string {
	switch k {
	case Create:
		return "CREATE"
	case Modify:
		return "MODIFY"
	case Remove:
		return "REMOVE"
	case Progress:
		return "PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Kind identifies the entity type stored in a record.
type Kind string

const (
	KindProject Kind = "project"
	KindShot    Kind = "shot"
	KindJob     Kind = "job"
)

// Event is broadcast to listeners registered on a store, or on an
// ancestor, whenever an entity changes.
type Event struct {
	Kind     EventKind
	EntityID string
	Entity   Kind
	ParentID string
	Record   map[string]any
}

// Listener receives entity events. A listener that panics is
// auto-unregistered so one bad subscriber cannot poison the bus.
type Listener func(Event)

// Store is a generic, persistent, id-indexed and parent-indexed entity
// store backing Project, Shot and Job.
type Store struct {
	root string
	log  *logger.Logger

	mu        sync.RWMutex
	records   map[string]*record
	byParent  map[string][]string
	listeners map[string][]Listener // keyed by entity id ("" = global)
}

type record struct {
	ID        string
	Kind      Kind
	ParentID  string
	Folder    string
	Attrs     map[string]any
	UpdatedAt time.Time
}

// NewStore opens (or creates) a store rooted at root.
func NewStore(root string, log *logger.Logger) *Store {
	return &Store{
		root:      root,
		log:       log,
		records:   make(map[string]*record),
		byParent:  make(map[string][]string),
		listeners: make(map[string][]Listener),
	}
}

// Create inserts a new entity of kind under parentID, merging patch into
// template, assigns a fresh uuid, persists it under folderFn(id), and
// emits CREATE to ancestors.
func (s *Store) Create(kind Kind, parentID string, folderFn func(id string) string, template, patch map[string]any) (string, error) {
	id := uuid.NewString()
	folder := folderFn(id)
	attrs := mergeMaps(template, patch)

	rec := &record{ID: id, Kind: kind, ParentID: parentID, Folder: folder, Attrs: attrs, UpdatedAt: time.Now()}

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("entity: create folder: %w", err)
	}
	if err := s.persist(rec); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.records[id] = rec
	s.byParent[parentID] = append(s.byParent[parentID], id)
	s.mu.Unlock()

	s.emit(Event{Kind: Create, EntityID: id, Entity: kind, ParentID: parentID, Record: attrs})
	return id, nil
}

// Update merges patch into the entity's attributes, bumps its last-modified
// timestamp, persists, and emits MODIFY.
func (s *Store) Update(id string, patch map[string]any) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("entity: update: unknown id %s", id)
	}
	rec.Attrs = mergeMaps(rec.Attrs, patch)
	rec.UpdatedAt = time.Now()
	snapshot := cloneMap(rec.Attrs)
	s.mu.Unlock()

	if err := s.persist(rec); err != nil {
		return err
	}
	s.emit(Event{Kind: Modify, EntityID: id, Entity: rec.Kind, ParentID: rec.ParentID, Record: snapshot})
	return nil
}

// Remove cascades REMOVE to children first, then deletes the record and its
// on-disk folder.
func (s *Store) Remove(id string) error {
	s.mu.RLock()
	children := append([]string{}, s.byParent[id]...)
	s.mu.RUnlock()

	for _, childID := range children {
		if err := s.Remove(childID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.records, id)
	if siblings, ok := s.byParent[rec.ParentID]; ok {
		s.byParent[rec.ParentID] = removeString(siblings, id)
	}
	delete(s.byParent, id)
	delete(s.listeners, id)
	s.mu.Unlock()

	s.emit(Event{Kind: Remove, EntityID: id, Entity: rec.Kind, ParentID: rec.ParentID})

	if rec.Folder != "" {
		if err := os.RemoveAll(rec.Folder); err != nil {
			s.log.Error("entity: remove folder failed", "folder", rec.Folder, "error", err)
		}
	}
	return nil
}

// Progress emits a PROGRESS event without mutating persisted state (used
// for cache-progress and task-poll ticks).
func (s *Store) Progress(id string, record map[string]any) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.emit(Event{Kind: Progress, EntityID: id, Entity: rec.Kind, ParentID: rec.ParentID, Record: record})
}

// Get returns a snapshot of the entity's attributes.
func (s *Store) Get(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return cloneMap(rec.Attrs), true
}

// Children returns the ids of entities parented under parentID.
func (s *Store) Children(parentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.byParent[parentID]...)
}

// RegisterCallback registers fn against entityID ("" for every event in the
// store).
func (s *Store) RegisterCallback(entityID string, fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[entityID] = append(s.listeners[entityID], fn)
}

// UnregisterCallback removes a previously registered listener. Listener
// values are compared by pointer identity via reflect, so callers should
// keep the original value to unregister it.
func (s *Store) UnregisterCallback(entityID string, fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[entityID] = removeListener(s.listeners[entityID], fn)
}

func (s *Store) emit(ev Event) {
	s.mu.RLock()
	targets := append(append([]Listener{}, s.listeners[""]...), s.listeners[ev.EntityID]...)
	for pid := ev.ParentID; pid != ""; {
		targets = append(targets, s.listeners[pid]...)
		parent, ok := s.records[pid]
		if !ok {
			break
		}
		pid = parent.ParentID
	}
	s.mu.RUnlock()

	for i, fn := range targets {
		s.invoke(ev, fn, i)
	}
}

// invoke calls fn and, if it panics, auto-unregisters it everywhere — per
// spec.md §7: "exceptions in entity callbacks auto-unregister the
// offending listener so one bad GUI subscriber cannot poison the bus."
func (s *Store) invoke(ev Event, fn Listener, _ int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("entity: callback panicked, unregistering", "panic", r, "entity_id", ev.EntityID)
			s.mu.Lock()
			for key, list := range s.listeners {
				s.listeners[key] = removeListener(list, fn)
			}
			s.mu.Unlock()
		}
	}()
	fn(ev)
}

func (s *Store) persist(rec *record) error {
	path := filepath.Join(rec.Folder, string(rec.Kind)+".json")
	data, err := json.MarshalIndent(rec.Attrs, "", "  ")
	if err != nil {
		return fmt.Errorf("entity: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("entity: write %s: %w", path, err)
	}
	return nil
}

func mergeMaps(base, patch map[string]any) map[string]any {
	out := cloneMap(base)
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func removeString(list []string, target string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func removeListener(list []Listener, target Listener) []Listener {
	// Function values cannot be compared with ==, so sameFunc (funcid.go)
	// compares their code pointers via reflect; closures built from the same
	// function literal therefore count as the same listener.
	out := make([]Listener, 0, len(list))
	for _, v := range list {
		if !sameFunc(v, target) {
			out = append(out, v)
		}
	}
	return out
}

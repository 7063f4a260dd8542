// Package store holds the canonical, deduplicated event collection for a
// single case session.
//
// The store is the only owner of the event slice: derivations (bucketing,
// filtering) operate on snapshots and never mutate it. All mutating
// operations are idempotent so that at-least-once delivery over the live
// channel, optimistic local writes and their echoes can be applied in any
// order and any multiplicity.
package store

import (
	"sort"
	"sync"

	"github.com/emberwatch/ember/internal/models"
)

// ChangeHandler is invoked exactly once after each mutating store call.
type ChangeHandler func()

// Store is the canonical collection of a case's non-trashed events.
type Store struct {
	mu sync.RWMutex

	events map[string]models.Event
	order  []string // GUIDs in insertion order, ties in buckets stay stable

	// closedBy maps a closed event's GUID to the GUID of the event closing it.
	closedBy map[string]string

	onChange ChangeHandler
}

// New creates an empty store.
func New() *Store {
	return &Store{
		events:   make(map[string]models.Event),
		closedBy: make(map[string]string),
	}
}

// SetOnChange registers the change handler. Must be called before the store
// is shared; the handler runs outside the store lock.
func (s *Store) SetOnChange(fn ChangeHandler) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Seed replaces the collection wholesale with the bulk-load result and
// rebuilds the closed-task index.
func (s *Store) Seed(events []models.Event) {
	s.mu.Lock()
	s.events = make(map[string]models.Event, len(events))
	s.order = s.order[:0]
	for _, ev := range events {
		if _, exists := s.events[ev.GUID]; exists {
			continue
		}
		s.events[ev.GUID] = ev.Clone()
		s.order = append(s.order, ev.GUID)
	}
	s.rebuildClosedIndexLocked()
	s.mu.Unlock()
	s.notify()
}

// Upsert inserts the event if its GUID is unknown. A re-delivered GUID is a
// no-op rather than an overwrite: an optimistic local insert must not be
// clobbered by its own live-channel echo. Returns true if inserted.
func (s *Store) Upsert(ev models.Event) bool {
	s.mu.Lock()
	_, exists := s.events[ev.GUID]
	if !exists {
		s.events[ev.GUID] = ev.Clone()
		s.order = append(s.order, ev.GUID)
		s.rebuildClosedIndexLocked()
	}
	s.mu.Unlock()
	s.notify()
	return !exists
}

// Remove deletes the event by GUID. No-ops if absent. Returns true if removed.
func (s *Store) Remove(guid string) bool {
	s.mu.Lock()
	_, exists := s.events[guid]
	if exists {
		delete(s.events, guid)
		for i, g := range s.order {
			if g == guid {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		s.rebuildClosedIndexLocked()
	}
	s.mu.Unlock()
	s.notify()
	return exists
}

// RestoreIfAbsent re-inserts an event only if its GUID is not already
// present, covering a restore echo arriving after the user's own restore
// already applied it.
func (s *Store) RestoreIfAbsent(ev models.Event) bool {
	return s.Upsert(ev)
}

// SetStar updates the starred flag. No-ops if the GUID is absent.
func (s *Store) SetStar(guid string, starred bool) bool {
	s.mu.Lock()
	ev, exists := s.events[guid]
	if exists {
		ev.Starred = starred
		s.events[guid] = ev
	}
	s.mu.Unlock()
	s.notify()
	return exists
}

// Clear empties the collection, used when the case transitions to closed.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = make(map[string]models.Event)
	s.order = s.order[:0]
	s.closedBy = make(map[string]string)
	s.mu.Unlock()
	s.notify()
}

// Len returns the number of events held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Get returns a copy of the event with the given GUID.
func (s *Store) Get(guid string) (models.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[guid]
	if !ok {
		return models.Event{}, false
	}
	return ev.Clone(), true
}

// Snapshot returns a copy of all events in insertion order.
func (s *Store) Snapshot() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]models.Event, 0, len(s.order))
	for _, guid := range s.order {
		events = append(events, s.events[guid].Clone())
	}
	return events
}

// IsClosed reports whether some event in the store closes the given GUID.
func (s *Store) IsClosed(guid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.closedBy[guid]
	return ok
}

// ClosedBy returns a copy of the event closing the given GUID, if any.
func (s *Store) ClosedBy(guid string) (models.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	closer, ok := s.closedBy[guid]
	if !ok {
		return models.Event{}, false
	}
	ev, ok := s.events[closer]
	if !ok {
		return models.Event{}, false
	}
	return ev.Clone(), true
}

// PendingTasks returns the TASK events not yet closed by another event,
// newest first.
func (s *Store) PendingTasks() []models.Event {
	s.mu.RLock()
	var tasks []models.Event
	for _, guid := range s.order {
		ev := s.events[guid]
		if !ev.IsTask() {
			continue
		}
		if _, closed := s.closedBy[ev.GUID]; closed {
			continue
		}
		tasks = append(tasks, ev.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Date.After(tasks[j].Date)
	})
	return tasks
}

// rebuildClosedIndexLocked recomputes the closes-target index. Callers hold
// the write lock.
func (s *Store) rebuildClosedIndexLocked() {
	s.closedBy = make(map[string]string, len(s.closedBy))
	for guid, ev := range s.events {
		if ev.Closes != "" {
			s.closedBy[ev.Closes] = guid
		}
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

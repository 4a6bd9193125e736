// Package state holds the in-memory projection of the project list that
// the optimistic coordinator and the realtime reconciler both mutate. It
// is the process-local "last known good" view served to SSE consumers and
// marked stale while the change feed is down.
package state

import (
	"encoding/json"
	"sync"

	"github.com/factorypulse/pulse/internal/rfq/entity"
)

// ProjectStore is a concurrency-safe projection of projects by id,
// preserving list order (newest first, matching the fetch order).
type ProjectStore struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*entity.Project
	stale bool
}

// NewProjectStore creates an empty store.
func NewProjectStore() *ProjectStore {
	return &ProjectStore{
		byID: make(map[string]*entity.Project),
	}
}

// Replace swaps the whole projection, used after a confirmed full refetch.
func (s *ProjectStore) Replace(projects []entity.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.byID = make(map[string]*entity.Project, len(projects))
	for i := range projects {
		p := projects[i]
		s.order = append(s.order, p.ID)
		s.byID[p.ID] = &p
	}
	s.stale = false
}

// Get returns a copy of the project with the given id.
func (s *ProjectStore) Get(id string) (entity.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return entity.Project{}, false
	}
	return *p, true
}

// Snapshot returns a copy of the full list in order.
func (s *ProjectStore) Snapshot() []entity.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Project, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// Upsert inserts the project at the head if absent, or replaces it in
// place if present.
func (s *ProjectStore) Upsert(p entity.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		s.order = append([]string{p.ID}, s.order...)
	}
	s.byID[p.ID] = &p
}

// InsertIfAbsent prepends the project only when no record with the same
// id exists; duplicate realtime INSERT deliveries are thus idempotent.
func (s *ProjectStore) InsertIfAbsent(p entity.Project) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; ok {
		return false
	}
	s.order = append([]string{p.ID}, s.order...)
	s.byID[p.ID] = &p
	return true
}

// MergeFields merges changed fields into the matching record by id.
// Fields not present in the payload retain their prior local values.
// Returns false when no record matches.
func (s *ProjectStore) MergeFields(id string, fields map[string]interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[id]
	if !ok {
		return false
	}

	// JSON round-trip merge keeps field naming consistent with the wire
	// payloads pushed by the change feed.
	base, err := json.Marshal(existing)
	if err != nil {
		return false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(base, &m); err != nil {
		return false
	}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		m[k] = v
	}
	merged, err := json.Marshal(m)
	if err != nil {
		return false
	}
	var updated entity.Project
	if err := json.Unmarshal(merged, &updated); err != nil {
		return false
	}
	updated.ID = existing.ID
	s.byID[id] = &updated
	return true
}

// Remove deletes the record by id; unknown ids are ignored.
func (s *ProjectStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// SetStale flags the projection as potentially out of date (change feed
// disconnected).
func (s *ProjectStore) SetStale(stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = stale
}

// Stale reports whether the projection may be out of date.
func (s *ProjectStore) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// Len reports the number of records held.
func (s *ProjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Package store holds the ordered, de-duplicated in-memory event index.
// Pure data structure, no I/O.
package store

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/dispatchhq/commshub/internal/core"
	"github.com/dispatchhq/commshub/internal/domain"
)

// threadState keeps events in arrival order plus an id set for dedupe.
type threadState struct {
	meta   domain.Thread
	seen   map[domain.EventID]struct{}
	events []domain.ThreadEvent
}

// Store is a threadsafe event index grouped by thread.
// Writers (Upsert, SeedThread, MarkRead) and readers (List, Summarize,
// Threads) may run concurrently; readers always see fully-applied events.
type Store struct {
	mu      sync.RWMutex
	threads map[domain.ThreadID]*threadState
	order   []domain.ThreadID
}

func New() *Store {
	return &Store{threads: make(map[domain.ThreadID]*threadState)}
}

// SeedThread registers thread metadata from the external listing collaborator.
// Summary fields already derived from stored events are kept.
func (s *Store) SeedThread(t domain.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.threads[t.ID]
	if !ok {
		s.threads[t.ID] = &threadState{meta: t, seen: make(map[domain.EventID]struct{})}
		s.order = append(s.order, t.ID)
		return
	}
	unread := st.meta.HasUnread
	preview := st.meta.LastPreview
	st.meta = t
	if preview != "" {
		st.meta.LastPreview = preview
	}
	st.meta.HasUnread = st.meta.HasUnread || unread
}

// Upsert inserts the event unless its id is already present for the thread.
// Applying the same event twice is a no-op; stored events are never mutated.
func (s *Store) Upsert(ev domain.ThreadEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.threads[ev.ThreadID]
	if !ok {
		st = &threadState{
			meta: domain.NewPlaceholderThread(ev.ThreadID, ev.Channel),
			seen: make(map[domain.EventID]struct{}),
		}
		s.threads[ev.ThreadID] = st
		s.order = append(s.order, ev.ThreadID)
	}
	if _, dup := st.seen[ev.ID]; dup {
		return false
	}
	st.seen[ev.ID] = struct{}{}
	st.events = append(st.events, ev)
	st.meta.LastPreview = ev.Preview()
	if ev.Direction == domain.DirectionInbound {
		st.meta.HasUnread = true
	}
	return true
}

// List returns the thread's events sorted by occurrence time, ties broken by
// arrival order. Stable for repeated calls with no new input.
func (s *Store) List(id domain.ThreadID) []domain.ThreadEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.threads[id]
	if !ok {
		return nil
	}
	out := make([]domain.ThreadEvent, len(st.events))
	copy(out, st.events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

// Summarize derives the thread-list view from the most recent event.
func (s *Store) Summarize(id domain.ThreadID) core.ThreadSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.threads[id]
	if !ok {
		return core.ThreadSummary{}
	}
	return core.ThreadSummary{Preview: st.meta.LastPreview, Unread: st.meta.HasUnread}
}

// MarkRead clears the unread flag; it is set again by the next inbound upsert.
func (s *Store) MarkRead(id domain.ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.threads[id]; ok {
		st.meta.HasUnread = false
	}
}

// HasThread reports whether the thread is known, seeded or synthesized.
func (s *Store) HasThread(id domain.ThreadID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.threads[id]
	return ok
}

// GetThread returns current thread metadata.
func (s *Store) GetThread(id domain.ThreadID) (domain.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.threads[id]
	if !ok {
		return domain.Thread{}, false
	}
	return st.meta, true
}

// Threads returns thread metadata in first-seen order.
func (s *Store) Threads() []domain.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.order, func(id domain.ThreadID, _ int) domain.Thread {
		return s.threads[id].meta
	})
}

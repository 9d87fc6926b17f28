package server

import (
	"sort"
	"sync"
)

type SessionRegistry struct {
	mu    sync.RWMutex
	store map[string]*Session
	max   int // 0 means unlimited
}

func NewSessionRegistry(max int) *SessionRegistry {
	return &SessionRegistry{store: make(map[string]*Session), max: max}
}

// Store adds the session unless the registry is full.
func (r *SessionRegistry) Store(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.store) >= r.max {
		return false
	}
	r.store[s.ID] = s
	return true
}

func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[id]
	return val, ok
}

func (r *SessionRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.store, id)
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}

// List returns the sessions ordered by connection time.
func (r *SessionRegistry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.store))
	for _, s := range r.store {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions
}

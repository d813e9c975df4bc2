package services

import (
	"sync"

	"sharecast/internal/core/domain"
)

// SessionState owns the local sharing state and notifies subscribers on
// every actual change. Setters are idempotent and never fail.
type SessionState struct {
	mu        sync.RWMutex
	state     domain.SharingState
	observers map[uint64]func(domain.SharingState)
	nextID    uint64
}

func NewSessionState() *SessionState {
	return &SessionState{
		observers: make(map[uint64]func(domain.SharingState)),
	}
}

// Snapshot returns the current state as one consistent value.
func (s *SessionState) Snapshot() domain.SharingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *SessionState) IsSharing() bool {
	return s.Snapshot().IsSharing
}

func (s *SessionState) ContentType() domain.ContentType {
	return s.Snapshot().ContentType
}

func (s *SessionState) CameraDeviceID() string {
	return s.Snapshot().CameraDeviceID
}

func (s *SessionState) SetIsSharing(sharing bool) {
	s.update(func(st *domain.SharingState) { st.IsSharing = sharing })
}

func (s *SessionState) SetContentType(contentType domain.ContentType) {
	s.update(func(st *domain.SharingState) { st.ContentType = contentType })
}

func (s *SessionState) SetCameraDeviceID(deviceID string) {
	s.update(func(st *domain.SharingState) { st.CameraDeviceID = deviceID })
}

// Commit replaces the whole state at once. Subscribers see a single
// notification carrying the new state, or none if nothing changed.
func (s *SessionState) Commit(next domain.SharingState) {
	s.update(func(st *domain.SharingState) { *st = next })
}

// Subscribe registers fn for every subsequent change. Notifications are
// delivered synchronously on the goroutine that made the change.
func (s *SessionState) Subscribe(fn func(domain.SharingState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *SessionState) update(mutate func(*domain.SharingState)) {
	s.mu.Lock()
	next := s.state
	mutate(&next)
	if next == s.state {
		s.mu.Unlock()
		return
	}
	s.state = next

	observers := make([]func(domain.SharingState), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	// Outside the lock so observers may read the state back.
	for _, fn := range observers {
		fn(next)
	}
}

package media

import (
	"sync"

	"sharecast/internal/core/ports"
)

// LocalStream groups capture tracks. It turns inactive when every track has
// ended and notifies OnInactive listeners if the last one ended on its own.
type LocalStream struct {
	id     string
	tracks []*LocalTrack

	mu        sync.Mutex
	listeners map[uint64]func()
	nextID    uint64
	fired     bool
}

var (
	_ ports.MediaStream      = (*LocalStream)(nil)
	_ ports.InactiveNotifier = (*LocalStream)(nil)
)

func NewLocalStream(id string, tracks ...*LocalTrack) *LocalStream {
	s := &LocalStream{
		id:        id,
		tracks:    tracks,
		listeners: make(map[uint64]func()),
	}
	for _, t := range tracks {
		t.OnEnded(s.trackEnded)
	}
	return s
}

func (s *LocalStream) ID() string {
	return s.id
}

func (s *LocalStream) Tracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *LocalStream) LocalTracks() []*LocalTrack {
	return s.tracks
}

func (s *LocalStream) Active() bool {
	for _, t := range s.tracks {
		if t.ReadyState() == ports.TrackStateLive {
			return true
		}
	}
	return false
}

func (s *LocalStream) OnInactive(fn func()) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *LocalStream) trackEnded() {
	if s.Active() {
		return
	}

	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return
	}
	s.fired = true
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

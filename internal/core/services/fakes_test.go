package services

import (
	"context"
	"sync"
	"time"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

type fakeTrack struct {
	mu        sync.Mutex
	id        string
	kind      ports.TrackKind
	ended     bool
	stopped   int
	listeners map[int]func()
	nextID    int
	onEnd     func()
}

func newFakeTrack(id string, kind ports.TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, listeners: make(map[int]func())}
}

func (t *fakeTrack) ID() string { return t.id }
func (t *fakeTrack) Kind() ports.TrackKind { return t.kind }

func (t *fakeTrack) ReadyState() ports.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return ports.TrackStateEnded
	}
	return ports.TrackStateLive
}

// Stop ends the track without firing ended listeners.
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.ended = true
	t.stopped++
	t.mu.Unlock()
}

// End simulates the source going away, which does fire listeners.
func (t *fakeTrack) End() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fns := make([]func(), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	onEnd := t.onEnd
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if onEnd != nil {
		onEnd()
	}
}

func (t *fakeTrack) OnEnded(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *fakeTrack) listenerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeStream struct {
	mu       sync.Mutex
	id       string
	tracks   []*fakeTrack
	inactive bool
}

func newFakeStream(id string, kinds ...ports.TrackKind) *fakeStream {
	s := &fakeStream{id: id}
	for i, k := range kinds {
		s.tracks = append(s.tracks, newFakeTrack(id+"-"+string(k)+string(rune('0'+i)), k))
	}
	return s
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []ports.MediaTrack {
	out := make([]ports.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.inactive
}

func (s *fakeStream) setInactive() {
	s.mu.Lock()
	s.inactive = true
	s.mu.Unlock()
}

func (s *fakeStream) video() *fakeTrack {
	for _, t := range s.tracks {
		if t.kind == ports.TrackKindVideo {
			return t
		}
	}
	return nil
}

func (s *fakeStream) allStopped() bool {
	for _, t := range s.tracks {
		if t.stopCount() == 0 {
			return false
		}
	}
	return true
}

// notifyingStream additionally reports inactivity as a whole.
type notifyingStream struct {
	*fakeStream
	listeners map[int]func()
	nextID    int
}

func newNotifyingStream(id string, kinds ...ports.TrackKind) *notifyingStream {
	return &notifyingStream{fakeStream: newFakeStream(id, kinds...), listeners: make(map[int]func())}
}

func (s *notifyingStream) OnInactive(fn func()) func() {
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

func (s *notifyingStream) deactivate() {
	s.mu.Lock()
	s.inactive = true
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type MockBridge struct {
	mock.Mock
}

func (m *MockBridge) Share(ctx context.Context, stream ports.MediaStream, onFail func(error), contentType domain.ContentType) error {
	args := m.Called(ctx, stream, onFail, contentType)
	return args.Error(0)
}

func (m *MockBridge) View(ctx context.Context, opts domain.ViewOptions) error {
	args := m.Called(ctx, opts)
	return args.Error(0)
}

func (m *MockBridge) Stop() {
	m.Called()
}

func (m *MockBridge) PeerConnection() (ports.StatsProvider, bool) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(ports.StatsProvider), args.Bool(1)
}

func (m *MockBridge) SetVolume(volume float64) {
	m.Called(volume)
}

func (m *MockBridge) Volume() float64 {
	return m.Called().Get(0).(float64)
}

func (m *MockBridge) SetOutputDeviceID(deviceID string) error {
	return m.Called(deviceID).Error(0)
}

func (m *MockBridge) LocalStream() ports.MediaStream {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(ports.MediaStream)
}

type MockStreamSource struct {
	mock.Mock
}

func (m *MockStreamSource) ScreenStream(ctx context.Context) (ports.MediaStream, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.MediaStream), args.Error(1)
}

type fakePeer struct {
	report domain.StatsReport
	err    error
}

func (p *fakePeer) GetStats(context.Context) (domain.StatsReport, error) {
	return p.report, p.err
}

type fakeFeed struct {
	mu        sync.Mutex
	current   *domain.Broadcast
	published []*domain.Broadcast
	cleared   int
	err       error
}

func (f *fakeFeed) Current(context.Context) (*domain.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.err
}

func (f *fakeFeed) Publish(_ context.Context, b *domain.Broadcast) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = b
	f.published = append(f.published, b)
	return nil
}

func (f *fakeFeed) Clear(_ context.Context, publisher string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	if f.current != nil && f.current.Publisher == publisher {
		f.current = nil
	}
	return nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, _ func(*domain.Broadcast)) error {
	<-ctx.Done()
	return nil
}

func (f *fakeFeed) Close() error { return nil }

type recordingObserver struct {
	ports.NopObserver
	mu      sync.Mutex
	started []domain.ContentType
	failed  []error
	ended   []domain.ContentType
	views   int
	stalls  int
	rates   map[domain.StatKind]float64
}

func (o *recordingObserver) ShareStarted(ct domain.ContentType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, ct)
}

func (o *recordingObserver) ShareFailed(_ domain.ContentType, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

func (o *recordingObserver) ShareEnded(ct domain.ContentType, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, ct)
}

func (o *recordingObserver) ViewFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.views++
}

func (o *recordingObserver) BitrateObserved(kind domain.StatKind, bps float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rates == nil {
		o.rates = make(map[domain.StatKind]float64)
	}
	o.rates[kind] = bps
}

func (o *recordingObserver) MediaStalled() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stalls++
}

func (o *recordingObserver) viewFailures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.views
}

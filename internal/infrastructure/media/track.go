package media

import (
	"errors"
	"sync"

	"sharecast/internal/core/ports"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

var ErrTrackEnded = errors.New("track ended")

// LocalTrack is a capture track backed by a pion sample track. Stop ends it
// quietly; End marks the source as gone and fires the ended listeners.
type LocalTrack struct {
	kind   ports.TrackKind
	sample *webrtc.TrackLocalStaticSample

	mu        sync.Mutex
	state     ports.TrackState
	listeners map[uint64]func()
	nextID    uint64
	done      chan struct{}
}

func NewLocalTrack(kind ports.TrackKind, mimeType, id, streamID string) (*LocalTrack, error) {
	sample, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{
		kind:      kind,
		sample:    sample,
		state:     ports.TrackStateLive,
		listeners: make(map[uint64]func()),
		done:      make(chan struct{}),
	}, nil
}

func (t *LocalTrack) ID() string {
	return t.sample.ID()
}

func (t *LocalTrack) Kind() ports.TrackKind {
	return t.kind
}

// TrackLocal is the pion track to attach to a peer connection.
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal {
	return t.sample
}

func (t *LocalTrack) ReadyState() ports.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the track has ended for any reason.
func (t *LocalTrack) Done() <-chan struct{} {
	return t.done
}

func (t *LocalTrack) Stop() {
	t.finish()
}

func (t *LocalTrack) End() {
	for _, fn := range t.finish() {
		fn()
	}
}

func (t *LocalTrack) OnEnded(fn func()) (remove func()) {
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

func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	select {
	case <-t.done:
		return ErrTrackEnded
	default:
	}
	return t.sample.WriteSample(s)
}

// finish marks the track ended and returns the listeners to notify, or nil
// if it had already ended.
func (t *LocalTrack) finish() []func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == ports.TrackStateEnded {
		return nil
	}
	t.state = ports.TrackStateEnded
	close(t.done)

	fns := make([]func(), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	return fns
}

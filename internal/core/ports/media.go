package ports

import "context"

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

type TrackState string

const (
	TrackStateLive  TrackState = "live"
	TrackStateEnded TrackState = "ended"
)

// MediaTrack is a single local audio or video track.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	ReadyState() TrackState
	Stop()
	// OnEnded registers fn to run once when the track ends. Previously
	// registered handlers stay in place. The returned func removes fn.
	OnEnded(fn func()) (remove func())
}

// MediaStream is an owned set of local tracks.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	Active() bool
}

// InactiveNotifier is implemented by streams that can signal the moment
// they become inactive as a whole.
type InactiveNotifier interface {
	OnInactive(fn func()) (remove func())
}

// StreamSource acquires a display-capture stream.
type StreamSource interface {
	ScreenStream(ctx context.Context) (MediaStream, error)
}

// CameraSource opens a camera device as a stream for camera-as-content shares.
type CameraSource interface {
	CameraStream(ctx context.Context, deviceID string) (MediaStream, error)
}

// VideoTracks returns the stream's video tracks in order.
func VideoTracks(stream MediaStream) []MediaTrack {
	var tracks []MediaTrack
	for _, t := range stream.Tracks() {
		if t.Kind() == TrackKindVideo {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// StopTracks stops every track of the stream.
func StopTracks(stream MediaStream) {
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}

// HasAudio reports whether the stream carries an audio track.
func HasAudio(stream MediaStream) bool {
	if stream == nil {
		return false
	}
	for _, t := range stream.Tracks() {
		if t.Kind() == TrackKindAudio {
			return true
		}
	}
	return false
}

package services

import (
	"sync"
	"sync/atomic"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
)

// StreamHandle owns an acquired local stream until it is released or
// terminates. The on-terminate hook is chosen once, at construction: the
// stream's inactive notification when available, otherwise the ended
// event of its first video track.
type StreamHandle struct {
	stream      ports.MediaStream
	onTerminate func(*StreamHandle)

	terminated atomic.Bool
	detachOnce sync.Once
	detach     func()
}

func newStreamHandle(stream ports.MediaStream, onTerminate func(*StreamHandle)) (*StreamHandle, error) {
	h := &StreamHandle{stream: stream, onTerminate: onTerminate}

	if notifier, ok := stream.(ports.InactiveNotifier); ok {
		h.detach = notifier.OnInactive(h.Terminate)
		return h, nil
	}

	videos := ports.VideoTracks(stream)
	if len(videos) == 0 {
		return nil, domain.ErrNoVideoTrack
	}
	h.detach = videos[0].OnEnded(h.Terminate)
	return h, nil
}

func (h *StreamHandle) Stream() ports.MediaStream {
	return h.stream
}

// Terminate runs the termination hook. Only the first call has any effect,
// including calls made from inside the hook itself.
func (h *StreamHandle) Terminate() {
	if !h.terminated.CompareAndSwap(false, true) {
		return
	}
	h.detachListener()
	if h.onTerminate != nil {
		h.onTerminate(h)
	}
}

// Release stops the stream without running the termination hook.
func (h *StreamHandle) Release() {
	h.terminated.Store(true)
	h.detachListener()
	ports.StopTracks(h.stream)
}

func (h *StreamHandle) Terminated() bool {
	return h.terminated.Load()
}

// Live reports whether every track is still live and the stream is active.
func (h *StreamHandle) Live() bool {
	return isStreamLive(h.stream)
}

func (h *StreamHandle) detachListener() {
	h.detachOnce.Do(func() {
		if h.detach != nil {
			h.detach()
		}
	})
}

func isStreamLive(stream ports.MediaStream) bool {
	for _, t := range stream.Tracks() {
		if t.ReadyState() == ports.TrackStateEnded {
			return false
		}
	}
	return stream.Active()
}

package webrtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
	"sharecast/internal/infrastructure/media"
	"sharecast/internal/infrastructure/signal"
	"sharecast/pkg/circuitbreaker"
	"sharecast/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeMediaServer answers start requests with a real pion answerer, or
// rejects them when reject is set.
type fakeMediaServer struct {
	t      *testing.T
	reject bool

	mu       sync.Mutex
	requests []signal.Message
	stops    int
}

func (s *fakeMediaServer) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var answerer *webrtc.PeerConnection
	defer func() {
		if answerer != nil {
			answerer.Close()
		}
	}()

	for {
		var msg signal.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.mu.Lock()
		if msg.ID == signal.MsgStop {
			s.stops++
		} else {
			s.requests = append(s.requests, msg)
		}
		s.mu.Unlock()

		if msg.ID != signal.MsgStart {
			continue
		}
		if s.reject {
			conn.WriteJSON(signal.Message{ID: signal.MsgError, Code: 2001, Reason: "MEDIA_SERVER_OFFLINE"})
			continue
		}

		answerer, err = webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			return
		}
		if err := answerer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDPOffer}); err != nil {
			conn.WriteJSON(signal.Message{ID: signal.MsgError, Reason: err.Error()})
			continue
		}
		answer, err := answerer.CreateAnswer(nil)
		if err != nil {
			return
		}
		gathered := webrtc.GatheringCompletePromise(answerer)
		if err := answerer.SetLocalDescription(answer); err != nil {
			return
		}
		<-gathered
		conn.WriteJSON(signal.Message{ID: signal.MsgStartResponse, SDPAnswer: answerer.LocalDescription().SDP})
	}
}

func (s *fakeMediaServer) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func newTestBridge(t *testing.T, server *fakeMediaServer) *Bridge {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(server.handle))
	t.Cleanup(srv.Close)

	client := signal.NewClient(signal.ClientConfig{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		PingInterval: time.Second,
		PongTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
		Retry:        retry.Config{Enabled: false},
	}, zap.NewNop().Sugar())

	bridge, err := NewBridge(Config{
		Breaker: circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Minute},
	}, ClientDialer(client), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { bridge.Close() })
	return bridge
}

func newLocalStream(t *testing.T, withAudio bool) *media.LocalStream {
	t.Helper()
	video, err := media.NewLocalTrack(ports.TrackKindVideo, webrtc.MimeTypeVP8, "video", "share")
	require.NoError(t, err)
	tracks := []*media.LocalTrack{video}
	if withAudio {
		audio, err := media.NewLocalTrack(ports.TrackKindAudio, webrtc.MimeTypeOpus, "audio", "share")
		require.NoError(t, err)
		tracks = append(tracks, audio)
	}
	return media.NewLocalStream("share", tracks...)
}

func TestBridge_ShareAndStop(t *testing.T) {
	server := &fakeMediaServer{t: t}
	bridge := newTestBridge(t, server)
	stream := newLocalStream(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, bridge.Share(ctx, stream, nil, domain.ContentTypeScreenshare))

	peer, ok := bridge.PeerConnection()
	require.True(t, ok)
	_, err := peer.GetStats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, stream, bridge.LocalStream())

	server.mu.Lock()
	require.Len(t, server.requests, 1)
	req := server.requests[0]
	server.mu.Unlock()
	assert.Equal(t, signal.RoleSend, req.Role)
	assert.Equal(t, "screenshare", req.ContentType)
	assert.True(t, req.HasAudio)
	assert.Contains(t, req.SDPOffer, "m=video")

	bridge.Stop()
	bridge.Stop()

	_, ok = bridge.PeerConnection()
	assert.False(t, ok)
	assert.Nil(t, bridge.LocalStream())
	assert.Eventually(t, func() bool { return server.stopCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_ViewRejectedOpensBreaker(t *testing.T) {
	bridge := newTestBridge(t, &fakeMediaServer{reject: true})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		err := bridge.View(ctx, domain.ViewOptions{HasAudio: true})
		assert.ErrorIs(t, err, domain.ErrShareRejected)
	}

	err := bridge.View(ctx, domain.ViewOptions{})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	_, ok := bridge.PeerConnection()
	assert.False(t, ok)
}

func TestBridge_ViewAndOutputDevice(t *testing.T) {
	bridge := newTestBridge(t, &fakeMediaServer{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assert.ErrorIs(t, bridge.SetOutputDeviceID("speakers"), ErrNoAudioSink)

	require.NoError(t, bridge.View(ctx, domain.ViewOptions{HasAudio: true, OutputDeviceID: "default"}))
	assert.Equal(t, "default", bridge.OutputDeviceID())
	require.NoError(t, bridge.SetOutputDeviceID("speakers"))
	assert.Equal(t, "speakers", bridge.OutputDeviceID())

	_, ok := bridge.PeerConnection()
	assert.True(t, ok)
}

func TestBridge_ShareRejectsForeignTracks(t *testing.T) {
	bridge := newTestBridge(t, &fakeMediaServer{})
	err := bridge.Share(context.Background(), foreignStream{}, nil, domain.ContentTypeScreenshare)
	assert.ErrorIs(t, err, ErrUnsupportedStream)
}

func TestBridge_ShareRejectsEndedStream(t *testing.T) {
	bridge := newTestBridge(t, &fakeMediaServer{})
	stream := newLocalStream(t, false)
	for _, track := range stream.LocalTracks() {
		track.End()
	}
	err := bridge.Share(context.Background(), stream, nil, domain.ContentTypeScreenshare)
	assert.ErrorIs(t, err, domain.ErrStreamInactive)
}

func TestBridge_ClosedRefusesWork(t *testing.T) {
	bridge := newTestBridge(t, &fakeMediaServer{})
	require.NoError(t, bridge.Close())

	err := bridge.Share(context.Background(), newLocalStream(t, false), nil, domain.ContentTypeCamera)
	assert.ErrorIs(t, err, domain.ErrBridgeClosed)
}

func TestBridge_Volume(t *testing.T) {
	bridge := newTestBridge(t, &fakeMediaServer{})
	assert.Equal(t, 1.0, bridge.Volume())
	bridge.SetVolume(0.25)
	assert.Equal(t, 0.25, bridge.Volume())
	bridge.SetVolume(3)
	assert.Equal(t, 1.0, bridge.Volume())
	bridge.SetVolume(-1)
	assert.Equal(t, 0.0, bridge.Volume())
}

type foreignTrack struct{}

func (foreignTrack) ID() string { return "foreign" }
func (foreignTrack) Kind() ports.TrackKind { return ports.TrackKindVideo }
func (foreignTrack) ReadyState() ports.TrackState { return ports.TrackStateLive }
func (foreignTrack) Stop() {}
func (foreignTrack) OnEnded(func()) func() { return func() {} }

type foreignStream struct{}

func (foreignStream) ID() string { return "foreign" }
func (foreignStream) Tracks() []ports.MediaTrack { return []ports.MediaTrack{foreignTrack{}} }
func (foreignStream) Active() bool { return true }

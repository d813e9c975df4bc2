package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
	"sharecast/internal/infrastructure/signal"
	"sharecast/pkg/circuitbreaker"
	"sharecast/pkg/logger"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedStream = errors.New("stream tracks cannot be published")
	ErrNoAudioSink       = errors.New("no incoming share audio to route")
)

// Config WebRTC configuration
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// RecordDir, when set, receives an IVF copy of every viewed VP8 share.
	RecordDir string
	Breaker   circuitbreaker.Config
	// Feedback, when set, counts RTCP feedback from the media server.
	Feedback FeedbackRecorder
}

// FeedbackRecorder counts RTCP packets by type ("pli", "nack", "receiver_report").
type FeedbackRecorder interface {
	RTCPReceived(packetType string)
}

// SignalSession is the negotiation channel of one peer connection.
type SignalSession interface {
	Start(ctx context.Context, req signal.Message) (string, error)
	OnCandidate(fn func(webrtc.ICECandidateInit))
	OnError(fn func(error))
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (SignalSession, error)
}

// ClientDialer adapts a signaling client to Dialer.
func ClientDialer(c *signal.Client) Dialer {
	return clientDialer{c}
}

type clientDialer struct {
	client *signal.Client
}

func (d clientDialer) Dial(ctx context.Context) (SignalSession, error) {
	sess, err := d.client.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// trackLocalProvider is implemented by capture tracks that can be attached
// to a peer connection.
type trackLocalProvider interface {
	TrackLocal() webrtc.TrackLocal
}

// Bridge publishes and views screen shares through the media server, one
// publisher and one viewer peer connection at a time.
type Bridge struct {
	cfg         Config
	api         *webrtc.API
	dialer      Dialer
	viewBreaker *circuitbreaker.CircuitBreaker
	logger      *zap.SugaredLogger

	mu             sync.Mutex
	publisher      *peerSession
	viewer         *peerSession
	local          ports.MediaStream
	volume         float64
	outputDeviceID string
	closed         bool
}

var _ ports.MediaBridge = (*Bridge)(nil)

type peerSession struct {
	role     string
	pc       *webrtc.PeerConnection
	signal   SignalSession
	hasAudio bool

	closeOnce sync.Once
}

func (p *peerSession) close() {
	p.closeOnce.Do(func() {
		if p.signal != nil {
			p.signal.Close()
		}
		p.pc.Close()
	})
}

func NewBridge(cfg Config, dialer Dialer, log *zap.SugaredLogger) (*Bridge, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	breaker := circuitbreaker.New(cfg.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		log.Infow("Viewer circuit breaker state changed",
			logger.Coded("bridge_view_breaker", nil, "from", from.String(), "to", to.String())...)
	})

	return &Bridge{
		cfg: cfg,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settingEngine),
		),
		dialer:      dialer,
		viewBreaker: breaker,
		logger:      log,
		volume:      1,
	}, nil
}

// Share publishes the stream's tracks. onFail receives failures reported
// after negotiation, for as long as this publisher is current.
func (b *Bridge) Share(ctx context.Context, stream ports.MediaStream, onFail func(error), contentType domain.ContentType) error {
	tracks, err := localTracks(stream)
	if err != nil {
		return err
	}
	if !stream.Active() {
		return domain.ErrStreamInactive
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.ErrBridgeClosed
	}
	previous := b.publisher
	b.publisher = nil
	b.mu.Unlock()
	if previous != nil {
		previous.close()
	}

	pc, err := b.api.NewPeerConnection(b.configuration())
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	ps := &peerSession{role: signal.RoleSend, pc: pc, hasAudio: ports.HasAudio(stream)}

	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			ps.close()
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		go b.readRTCP(sender)
	}

	report := b.reporter(ps, onFail)
	pc.OnConnectionStateChange(b.handleConnectionState(ps, report))

	err = b.negotiate(ctx, ps, signal.Message{
		Type:        "screenshare",
		Role:        signal.RoleSend,
		ContentType: string(contentType),
		HasAudio:    ps.hasAudio,
	}, report)
	if err != nil {
		ps.close()
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ps.close()
		return domain.ErrBridgeClosed
	}
	b.publisher = ps
	b.local = stream
	b.mu.Unlock()

	b.logger.Infow("Screenshare published",
		logger.Coded("bridge_share_published", nil,
			"stream_id", stream.ID(),
			"content_type", contentType,
			"tracks", len(tracks))...)
	return nil
}

// View subscribes to the share currently on air.
func (b *Bridge) View(ctx context.Context, opts domain.ViewOptions) error {
	return b.viewBreaker.Execute(func() error {
		return b.view(ctx, opts)
	})
}

func (b *Bridge) view(ctx context.Context, opts domain.ViewOptions) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.ErrBridgeClosed
	}
	previous := b.viewer
	b.viewer = nil
	b.mu.Unlock()
	if previous != nil {
		previous.close()
	}

	pc, err := b.api.NewPeerConnection(b.configuration())
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	ps := &peerSession{role: signal.RoleRecv, pc: pc, hasAudio: opts.HasAudio}

	recvOnly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, recvOnly); err != nil {
		ps.close()
		return fmt.Errorf("add video transceiver: %w", err)
	}
	if opts.HasAudio {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, recvOnly); err != nil {
			ps.close()
			return fmt.Errorf("add audio transceiver: %w", err)
		}
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go b.consume(track)
	})

	report := b.reporter(ps, func(err error) {
		b.logger.Errorw("Screenshare viewer dropped",
			logger.Coded("bridge_view_dropped", err)...)
	})
	pc.OnConnectionStateChange(b.handleConnectionState(ps, report))

	err = b.negotiate(ctx, ps, signal.Message{
		Type:     "screenshare",
		Role:     signal.RoleRecv,
		HasAudio: opts.HasAudio,
	}, report)
	if err != nil {
		ps.close()
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ps.close()
		return domain.ErrBridgeClosed
	}
	b.viewer = ps
	b.outputDeviceID = opts.OutputDeviceID
	b.mu.Unlock()
	return nil
}

// Stop closes both peer connections. Safe to call at any time.
func (b *Bridge) Stop() {
	b.mu.Lock()
	publisher, viewer := b.publisher, b.viewer
	b.publisher, b.viewer, b.local = nil, nil, nil
	b.mu.Unlock()

	if publisher != nil {
		publisher.close()
	}
	if viewer != nil {
		viewer.close()
	}
}

// Close stops the bridge for good.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Stop()
	return nil
}

// PeerConnection returns the publishing peer, or the viewing one.
func (b *Bridge) PeerConnection() (ports.StatsProvider, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.publisher != nil:
		return statsPeer{pc: b.publisher.pc}, true
	case b.viewer != nil:
		return statsPeer{pc: b.viewer.pc}, true
	default:
		return nil, false
	}
}

// SetVolume records the viewer volume, clamped to [0, 1].
func (b *Bridge) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	b.mu.Lock()
	b.volume = volume
	b.mu.Unlock()
}

func (b *Bridge) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

// SetOutputDeviceID records deviceID as the output for the viewed share's
// audio. The bridge plays nothing itself; the setting is reported to
// whoever renders the viewer's tracks.
func (b *Bridge) SetOutputDeviceID(deviceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.viewer == nil || !b.viewer.hasAudio {
		return ErrNoAudioSink
	}
	b.outputDeviceID = deviceID
	return nil
}

func (b *Bridge) OutputDeviceID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputDeviceID
}

func (b *Bridge) LocalStream() ports.MediaStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.local
}

func (b *Bridge) configuration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:   b.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
}

// negotiate runs offer/answer with the media server over a new signaling
// session. The offer carries all gathered candidates.
func (b *Bridge) negotiate(ctx context.Context, ps *peerSession, req signal.Message, onError func(error)) error {
	offer, err := ps.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(ps.pc)
	if err := ps.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	sess, err := b.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	ps.signal = sess
	sess.OnCandidate(func(c webrtc.ICECandidateInit) {
		if err := ps.pc.AddICECandidate(c); err != nil {
			b.logger.Warnw("failed to add remote candidate", "role", ps.role, "error", err)
		}
	})
	sess.OnError(onError)

	req.SDPOffer = ps.pc.LocalDescription().SDP
	answer, err := sess.Start(ctx, req)
	if err != nil {
		return err
	}
	if err := ps.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// reporter forwards at most one failure, and only while ps is still one of
// the bridge's current sessions.
func (b *Bridge) reporter(ps *peerSession, onFail func(error)) func(error) {
	var once sync.Once
	return func(err error) {
		b.mu.Lock()
		current := b.publisher == ps || b.viewer == ps
		b.mu.Unlock()
		if !current || onFail == nil {
			return
		}
		once.Do(func() { onFail(err) })
	}
}

func (b *Bridge) handleConnectionState(ps *peerSession, report func(error)) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		b.logger.Infow("peer connection state changed",
			"role", ps.role,
			"connection_state", state.String(),
		)
		if state == webrtc.PeerConnectionStateFailed {
			report(fmt.Errorf("%s peer connection failed: %w", ps.role, domain.ErrBridgeClosed))
		}
	}
}

func localTracks(stream ports.MediaStream) ([]webrtc.TrackLocal, error) {
	var tracks []webrtc.TrackLocal
	for _, t := range stream.Tracks() {
		provider, ok := t.(trackLocalProvider)
		if !ok {
			return nil, fmt.Errorf("track %s: %w", t.ID(), ErrUnsupportedStream)
		}
		tracks = append(tracks, provider.TrackLocal())
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("empty stream: %w", ErrUnsupportedStream)
	}
	return tracks, nil
}

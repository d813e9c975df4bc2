package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
	apperrors "sharecast/pkg/errors"
	"sharecast/pkg/logger"
	"sharecast/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type ScreenshareConfig struct {
	EnableVolumeControl bool
	// TabletMode disables the local preview; the stream lives in native code.
	TabletMode    bool
	ParticipantID string
}

// ScreenshareService drives the local share session: acquisition, publish,
// termination and teardown, plus the subscribe side for viewers.
type ScreenshareService struct {
	state    *SessionState
	bridge   ports.MediaBridge
	screens  ports.StreamSource
	feed     ports.BroadcastFeed
	observer ports.ShareObserver
	cfg      ScreenshareConfig
	logger   *zap.SugaredLogger

	// startMu serialises StartShare calls; mu guards the fields below.
	startMu sync.Mutex
	mu      sync.Mutex
	phase   domain.SharePhase
	handle  *StreamHandle
	session *domain.ShareSession

	now func() time.Time
}

var _ ports.ScreenshareService = (*ScreenshareService)(nil)

func NewScreenshareService(
	state *SessionState,
	bridge ports.MediaBridge,
	screens ports.StreamSource,
	feed ports.BroadcastFeed,
	observer ports.ShareObserver,
	cfg ScreenshareConfig,
	logger *zap.SugaredLogger,
) *ScreenshareService {
	if observer == nil {
		observer = ports.NopObserver{}
	}
	return &ScreenshareService{
		state:    state,
		bridge:   bridge,
		screens:  screens,
		feed:     feed,
		observer: observer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// StartShare acquires a stream (or uses opts.Stream as camera content) and
// publishes it. Establishment failures are passed to onFail and returned.
// A stream that dies while publishing is routed through the termination
// path and is not an error.
func (s *ScreenshareService) StartShare(ctx context.Context, isPresenter bool, onFail func(error), opts ports.ShareOptions) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	ctx, span := tracing.TraceShare(ctx, "start", isPresenter)
	defer span.End()

	if onFail == nil {
		onFail = func(error) {}
	}

	// At most one outbound share.
	if s.IsCameraAsContentBroadcasting(ctx) || s.state.IsSharing() {
		s.EndShare()
	}

	contentType := domain.ContentTypeScreenshare
	if opts.Stream != nil {
		contentType = domain.ContentTypeCamera
	}
	fail := func(err error) error {
		s.setPhase(domain.PhaseIdle)
		tracing.RecordError(ctx, err)
		s.observer.ShareFailed(contentType, err)
		s.logger.Errorw("Screenshare start failure",
			logger.Coded("screenshare_start_failed", err, "content_type", contentType)...)
		onFail(err)
		return err
	}

	s.setPhase(domain.PhaseAcquiring)
	stream := opts.Stream
	if stream == nil {
		acquired, err := s.screens.ScreenStream(ctx)
		if err != nil {
			return fail(apperrors.NewAcquisitionError(err))
		}
		stream = acquired
	}

	h, err := newStreamHandle(stream, s.handleTermination)
	if err != nil {
		ports.StopTracks(stream)
		return fail(apperrors.NewAcquisitionError(err))
	}

	// Passive preview: nothing is published and no state changes.
	if !isPresenter {
		h.Release()
		s.setPhase(domain.PhaseIdle)
		return nil
	}

	s.mu.Lock()
	s.handle = h
	s.phase = domain.PhasePublishing
	s.mu.Unlock()

	if err := s.bridge.Share(ctx, stream, s.lateFailure(h, contentType, onFail), contentType); err != nil {
		if h.Terminated() || !h.Live() {
			s.logger.Debugw("Screenshare stream inactive during publish",
				logger.Coded("screenshare_stream_inactive", err, "stream_id", stream.ID())...)
			span.SetStatus(codes.Ok, "stream ended during publish")
			h.Terminate()
			return nil
		}
		s.mu.Lock()
		if s.handle == h {
			s.handle = nil
		}
		s.mu.Unlock()
		h.Release()
		return fail(apperrors.NewPublishError(err))
	}

	// The stream may have gone away while publishing; commit only if it is
	// still ours and live.
	s.mu.Lock()
	if s.handle != h || h.Terminated() || !h.Live() {
		s.mu.Unlock()
		s.logger.Debugw("Screenshare stream inactive after publish",
			logger.Coded("screenshare_stream_inactive", nil, "stream_id", stream.ID())...)
		span.SetStatus(codes.Ok, "stream ended before commit")
		h.Terminate()
		return nil
	}
	session := &domain.ShareSession{
		ID:          domain.ShareSessionID(uuid.NewString()),
		ContentType: contentType,
		StreamID:    stream.ID(),
		StartedAt:   s.now(),
	}
	s.session = session
	s.phase = domain.PhaseActive
	s.mu.Unlock()
	tracing.AnnotateSession(ctx, string(session.ID), string(contentType))

	if opts.StopWatching != nil {
		opts.StopWatching()
	}

	next := domain.SharingState{IsSharing: true, ContentType: contentType}
	if contentType == domain.ContentTypeCamera {
		next.CameraDeviceID = opts.CameraDeviceID
	}
	s.state.Commit(next)

	s.announce(ctx, &domain.Broadcast{
		ContentType: contentType,
		Stream:      stream.ID(),
		HasAudio:    ports.HasAudio(stream),
		Publisher:   s.cfg.ParticipantID,
		UpdatedAt:   session.StartedAt,
	})
	s.observer.ShareStarted(contentType)

	s.logger.Infow("Screenshare started",
		logger.Coded("screenshare_started", nil,
			"session_id", session.ID,
			"content_type", contentType,
			"stream_id", stream.ID())...)
	return nil
}

// EndShare tears the local share down. State only changes if a share is
// active; the bridge is always told to stop.
func (s *ScreenshareService) EndShare() {
	s.mu.Lock()
	h := s.handle
	session := s.session
	s.handle = nil
	s.session = nil
	s.phase = domain.PhaseIdle
	s.mu.Unlock()

	if h != nil {
		h.Release()
	}

	current := s.state.Snapshot()
	if current.IsSharing {
		next := current
		next.IsSharing = false
		if current.ContentType == domain.ContentTypeCamera {
			next.CameraDeviceID = ""
		}
		s.state.Commit(next)
	}

	s.bridge.Stop()

	if current.IsSharing {
		ctx := context.Background()
		if err := s.feed.Clear(ctx, s.cfg.ParticipantID); err != nil {
			s.logger.Warnw("Failed to clear broadcast",
				logger.Coded("screenshare_broadcast_clear_failed", err)...)
		}
		var duration time.Duration
		if session != nil {
			duration = s.now().Sub(session.StartedAt)
		}
		s.observer.ShareEnded(current.ContentType, duration)
		s.logger.Infow("Screenshare ended",
			logger.Coded("screenshare_ended", nil,
				"content_type", current.ContentType,
				"duration", duration)...)
	}
}

// ViewShare subscribes to the incoming share in the background. Failures
// are logged, never returned.
func (s *ScreenshareService) ViewShare(ctx context.Context, opts domain.ViewOptions) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, span := tracing.TraceView(ctx, opts.HasAudio)
		defer span.End()

		if err := s.bridge.View(ctx, opts); err != nil {
			tracing.RecordError(ctx, err)
			s.observer.ViewFailed()
			s.logger.Errorw("Screenshare viewer failure",
				logger.Coded("screenshare_view_failed", apperrors.NewViewError(err))...)
		}
	}()
}

// HasStarted reacts to a share going on air. The presenter already has a
// local preview, so only other participants start viewing.
func (s *ScreenshareService) HasStarted(ctx context.Context, hasAudio, isPresenter bool, opts domain.ViewOptions) {
	if isPresenter {
		return
	}
	s.ViewShare(ctx, domain.ViewOptions{HasAudio: hasAudio, OutputDeviceID: opts.OutputDeviceID})
}

func (s *ScreenshareService) State() domain.SharingState {
	return s.state.Snapshot()
}

func (s *ScreenshareService) Phase() domain.SharePhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *ScreenshareService) Session() (domain.ShareSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return domain.ShareSession{}, false
	}
	return *s.session, true
}

// IsScreenBroadcasting is true while this client shares its screen or any
// participant's screen share is on air.
func (s *ScreenshareService) IsScreenBroadcasting(ctx context.Context) bool {
	return s.isBroadcasting(ctx, domain.ContentTypeScreenshare)
}

func (s *ScreenshareService) IsCameraAsContentBroadcasting(ctx context.Context) bool {
	return s.isBroadcasting(ctx, domain.ContentTypeCamera)
}

func (s *ScreenshareService) ScreenshareHasAudio(ctx context.Context) bool {
	b := s.currentBroadcast(ctx)
	return b != nil && b.HasAudio
}

// BroadcastContentType defaults to camera when nothing is on air.
func (s *ScreenshareService) BroadcastContentType(ctx context.Context) domain.ContentType {
	b := s.currentBroadcast(ctx)
	if b == nil {
		return domain.ContentTypeCamera
	}
	return b.ContentType
}

func (s *ScreenshareService) ShouldEnableVolumeControl(ctx context.Context) bool {
	return s.cfg.EnableVolumeControl && s.ScreenshareHasAudio(ctx)
}

func (s *ScreenshareService) SetVolume(volume float64) {
	s.bridge.SetVolume(volume)
}

func (s *ScreenshareService) Volume() float64 {
	return s.bridge.Volume()
}

func (s *ScreenshareService) SetOutputDeviceID(deviceID string) {
	if err := s.bridge.SetOutputDeviceID(deviceID); err != nil {
		s.logger.Errorw("Error changing screenshare output device",
			logger.Coded("screenshare_output_device_change_failure", err, "new_device_id", deviceID)...)
		return
	}
	target := deviceID
	if target == "" {
		target = "default"
	}
	s.logger.Debugw("Screenshare output device changed to "+target,
		logger.Coded("screenshare_output_device_change", nil, "new_device_id", deviceID)...)
}

// LocalPreviewStream returns the stream being published, for a muted
// presenter preview.
func (s *ScreenshareService) LocalPreviewStream() (ports.MediaStream, bool) {
	if s.cfg.TabletMode {
		return nil, false
	}
	stream := s.bridge.LocalStream()
	if stream == nil {
		return nil, false
	}
	return stream, true
}

func (s *ScreenshareService) handleTermination(h *StreamHandle) {
	s.mu.Lock()
	current := s.handle == h
	s.mu.Unlock()

	if !current {
		h.Release()
		return
	}
	s.logger.Infow("Screenshare stream terminated",
		logger.Coded("screenshare_stream_terminated", nil, "stream_id", h.Stream().ID())...)
	s.EndShare()
}

// lateFailure wraps onFail for errors the bridge reports after Share
// returned. A failure of the live share also ends it; failures after the
// share ended are dropped.
func (s *ScreenshareService) lateFailure(h *StreamHandle, contentType domain.ContentType, onFail func(error)) func(error) {
	return func(err error) {
		if err == nil || h.Terminated() {
			return
		}
		s.observer.ShareFailed(contentType, err)
		s.logger.Errorw("Screenshare bridge failure",
			logger.Coded("screenshare_bridge_failure", err, "content_type", contentType)...)
		onFail(err)
		h.Terminate()
	}
}

func (s *ScreenshareService) isBroadcasting(ctx context.Context, contentType domain.ContentType) bool {
	st := s.state.Snapshot()
	if st.IsSharing && st.ContentType == contentType {
		return true
	}
	return s.currentBroadcast(ctx).OnAir(contentType)
}

func (s *ScreenshareService) currentBroadcast(ctx context.Context) *domain.Broadcast {
	b, err := s.feed.Current(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warnw("Failed to read broadcast",
				logger.Coded("screenshare_broadcast_read_failed", err)...)
		}
		return nil
	}
	return b
}

func (s *ScreenshareService) announce(ctx context.Context, b *domain.Broadcast) {
	if err := s.feed.Publish(ctx, b); err != nil {
		s.logger.Warnw("Failed to publish broadcast",
			logger.Coded("screenshare_broadcast_publish_failed", err)...)
	}
}

func (s *ScreenshareService) setPhase(phase domain.SharePhase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

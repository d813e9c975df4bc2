package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
	"sharecast/internal/core/services"
	"sharecast/internal/infrastructure/middleware"
	apperrors "sharecast/pkg/errors"
	"sharecast/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const startTimeout = 30 * time.Second

// LivenessReader exposes the latest liveness evaluation.
type LivenessReader interface {
	Status() services.LivenessStatus
}

type ShareHandler struct {
	share    ports.ScreenshareService
	stats    ports.StatsService
	cameras  ports.CameraSource
	liveness LivenessReader
	logger   *logger.ContextLogger
}

func NewShareHandler(
	share ports.ScreenshareService,
	stats ports.StatsService,
	cameras ports.CameraSource,
	liveness LivenessReader,
	log *zap.SugaredLogger,
) *ShareHandler {
	return &ShareHandler{
		share:    share,
		stats:    stats,
		cameras:  cameras,
		liveness: liveness,
		logger:   logger.NewContextLogger(log.Desugar()),
	}
}

// SetupRoutes mounts the share API on group, which already carries the
// auth and rate limit middleware.
func (h *ShareHandler) SetupRoutes(group *gin.RouterGroup) {
	share := group.Group("/share")
	{
		share.POST("/start", h.StartShare)
		share.POST("/stop", h.StopShare)
		share.POST("/view", h.ViewShare)
		share.GET("/state", h.GetState)
		share.GET("/stats", h.GetStats)
		share.GET("/flowing", h.GetFlowing)
		share.GET("/volume", h.GetVolume)
		share.PUT("/volume", h.SetVolume)
		share.PUT("/output-device", h.SetOutputDevice)
		share.GET("/preview", h.GetPreview)
	}
}

type startShareRequest struct {
	ContentType    domain.ContentType `json:"content_type"`
	CameraDeviceID string             `json:"camera_device_id"`
	Presenter      *bool              `json:"presenter"`
}

func (h *ShareHandler) StartShare(c *gin.Context) {
	var req startShareRequest
	if err := c.ShouldBindJSON(&req); err != nil && !isEmptyBody(err) {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	// Outlives the request so a disconnecting caller cannot abort negotiation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), startTimeout)
	defer cancel()
	ctx = correlate(c, ctx)

	var opts ports.ShareOptions
	switch req.ContentType {
	case domain.ContentTypeNone, domain.ContentTypeScreenshare:
	case domain.ContentTypeCamera:
		if req.CameraDeviceID == "" {
			c.Error(apperrors.NewInvalidInputError("camera_device_id required for camera shares"))
			return
		}
		stream, err := h.cameras.CameraStream(ctx, req.CameraDeviceID)
		if err != nil {
			c.Error(apperrors.NewAcquisitionError(err).WithContext("camera_device_id", req.CameraDeviceID))
			return
		}
		opts.Stream = stream
		opts.CameraDeviceID = req.CameraDeviceID
	default:
		c.Error(apperrors.NewInvalidInputError("unknown content_type " + string(req.ContentType)))
		return
	}

	presenter := h.isPresenter(c, req.Presenter)
	participant := middleware.ParticipantID(c)
	onFail := func(err error) {
		h.logger.LogCodedError(ctx, "screenshare_failure_reported", err, "Screenshare failed",
			zap.String("participant_id", participant))
	}
	if err := h.share.StartShare(ctx, presenter, onFail, opts); err != nil {
		c.Error(err)
		return
	}
	if session, ok := h.share.Session(); ok {
		h.logger.LogInfo(logger.WithSessionID(ctx, string(session.ID)), "Screenshare started via control API",
			zap.Bool("presenter", presenter), zap.String("participant_id", participant))
	}

	c.JSON(http.StatusOK, h.stateBody(c.Request.Context()))
}

func (h *ShareHandler) StopShare(c *gin.Context) {
	h.share.EndShare()
	c.JSON(http.StatusOK, h.stateBody(c.Request.Context()))
}

type viewShareRequest struct {
	HasAudio       bool   `json:"has_audio"`
	OutputDeviceID string `json:"output_device_id"`
	Presenter      *bool  `json:"presenter"`
}

// ViewShare reacts to a share having started in the meeting. Presenters keep
// their local preview; everybody else subscribes in the background.
func (h *ShareHandler) ViewShare(c *gin.Context) {
	var req viewShareRequest
	if err := c.ShouldBindJSON(&req); err != nil && !isEmptyBody(err) {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	presenter := h.isPresenter(c, req.Presenter)
	h.share.HasStarted(c.Request.Context(), req.HasAudio, presenter, domain.ViewOptions{
		HasAudio:       req.HasAudio,
		OutputDeviceID: req.OutputDeviceID,
	})
	c.JSON(http.StatusAccepted, gin.H{"viewing": !presenter})
}

func (h *ShareHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.stateBody(c.Request.Context()))
}

func (h *ShareHandler) stateBody(ctx context.Context) gin.H {
	body := gin.H{
		"state": h.share.State(),
		"phase": h.share.Phase().String(),
		"broadcast": gin.H{
			"content_type":           h.share.BroadcastContentType(ctx),
			"screen_broadcasting":    h.share.IsScreenBroadcasting(ctx),
			"camera_as_content":      h.share.IsCameraAsContentBroadcasting(ctx),
			"has_audio":              h.share.ScreenshareHasAudio(ctx),
			"volume_control_enabled": h.share.ShouldEnableVolumeControl(ctx),
		},
	}
	if session, ok := h.share.Session(); ok {
		body["session"] = session
	}
	return body
}

// GetStats returns the filtered stats sample. ?kinds=outbound-rtp,transport
// overrides the configured allow-list.
func (h *ShareHandler) GetStats(c *gin.Context) {
	var kinds []domain.StatKind
	if raw := c.Query("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, domain.StatKind(k))
			}
		}
	}

	sample, err := h.stats.GetStats(c.Request.Context(), kinds...)
	if err != nil {
		c.Error(apperrors.NewStatsUnavailableError(err))
		return
	}
	if sample == nil {
		c.JSON(http.StatusOK, gin.H{"peer": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": true, "stats": sample})
}

func (h *ShareHandler) GetFlowing(c *gin.Context) {
	c.JSON(http.StatusOK, h.liveness.Status())
}

func (h *ShareHandler) GetVolume(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"volume":  h.share.Volume(),
		"enabled": h.share.ShouldEnableVolumeControl(c.Request.Context()),
	})
}

func (h *ShareHandler) SetVolume(c *gin.Context) {
	var req struct {
		Volume *float64 `json:"volume" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	h.share.SetVolume(*req.Volume)
	c.JSON(http.StatusOK, gin.H{"volume": h.share.Volume()})
}

// SetOutputDevice never fails the request; routing failures are only logged.
func (h *ShareHandler) SetOutputDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	h.share.SetOutputDeviceID(req.DeviceID)
	c.Status(http.StatusNoContent)
}

func (h *ShareHandler) GetPreview(c *gin.Context) {
	stream, ok := h.share.LocalPreviewStream()
	if !ok {
		c.Error(apperrors.NewNotFoundError("local preview"))
		return
	}

	tracks := make([]gin.H, 0, len(stream.Tracks()))
	for _, t := range stream.Tracks() {
		tracks = append(tracks, gin.H{"id": t.ID(), "kind": t.Kind(), "state": t.ReadyState()})
	}
	c.JSON(http.StatusOK, gin.H{"stream_id": stream.ID(), "active": stream.Active(), "tracks": tracks})
}

// isPresenter prefers the token claim; without auth the body decides and
// the default is presenting.
func (h *ShareHandler) isPresenter(c *gin.Context, fromBody *bool) bool {
	if presenter, ok := middleware.Presenter(c); ok {
		return presenter
	}
	if fromBody != nil {
		return *fromBody
	}
	return true
}

// correlate carries the request id and trace id into ctx for log entries
// written after the request returns.
func correlate(c *gin.Context, ctx context.Context) context.Context {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = logger.WithRequestID(ctx, requestID)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ctx = logger.WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx
}

func isEmptyBody(err error) bool {
	return errors.Is(err, io.EOF)
}

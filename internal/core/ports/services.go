package ports

import (
	"context"

	"sharecast/internal/core/domain"
)

type ShareOptions struct {
	// Stream, when set, is shared as camera-as-content instead of acquiring
	// a display-capture stream.
	Stream MediaStream
	// CameraDeviceID identifies the camera behind Stream.
	CameraDeviceID string
	// StopWatching stops a competing share (e.g. external video) once this
	// one is committed.
	StopWatching func()
}

type ScreenshareService interface {
	StartShare(ctx context.Context, isPresenter bool, onFail func(error), opts ShareOptions) error
	EndShare()
	ViewShare(ctx context.Context, opts domain.ViewOptions)
	HasStarted(ctx context.Context, hasAudio, isPresenter bool, opts domain.ViewOptions)
	State() domain.SharingState
	Phase() domain.SharePhase
	Session() (domain.ShareSession, bool)

	IsScreenBroadcasting(ctx context.Context) bool
	IsCameraAsContentBroadcasting(ctx context.Context) bool
	ScreenshareHasAudio(ctx context.Context) bool
	BroadcastContentType(ctx context.Context) domain.ContentType
	ShouldEnableVolumeControl(ctx context.Context) bool

	SetVolume(volume float64)
	Volume() float64
	SetOutputDeviceID(deviceID string)
	LocalPreviewStream() (MediaStream, bool)
}

type StatsService interface {
	GetStats(ctx context.Context, kinds ...domain.StatKind) (domain.StatsSample, error)
	IsMediaFlowing(previous, current domain.StatsSample) (bool, error)
}

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
	"sharecast/pkg/logger"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"go.uber.org/zap"
)

type CaptureConfig struct {
	// ScreenPath is an IVF file or FIFO fed by the display capturer.
	ScreenPath string
	// Cameras maps camera device ids to IVF feeds.
	Cameras map[string]string
	// FrameRate is used when the IVF header carries no usable timebase.
	FrameRate int
}

// IVFSource opens IVF feeds as capture streams. Each stream pumps frames into
// a single video track until the feed ends or the track is stopped.
type IVFSource struct {
	cfg    CaptureConfig
	logger *zap.SugaredLogger
	open   func(path string) (io.ReadCloser, error)
}

var (
	_ ports.StreamSource = (*IVFSource)(nil)
	_ ports.CameraSource = (*IVFSource)(nil)
)

func NewIVFSource(cfg CaptureConfig, logger *zap.SugaredLogger) *IVFSource {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}
	return &IVFSource{
		cfg:    cfg,
		logger: logger,
		open:   func(path string) (io.ReadCloser, error) { return os.Open(path) },
	}
}

func (s *IVFSource) ScreenStream(ctx context.Context) (ports.MediaStream, error) {
	if s.cfg.ScreenPath == "" {
		return nil, fmt.Errorf("screen capture: %w", domain.ErrSourceNotFound)
	}
	return s.openStream(ctx, "screen", s.cfg.ScreenPath)
}

func (s *IVFSource) CameraStream(ctx context.Context, deviceID string) (ports.MediaStream, error) {
	path, ok := s.cfg.Cameras[deviceID]
	if !ok {
		return nil, fmt.Errorf("camera %q: %w", deviceID, domain.ErrSourceNotFound)
	}
	return s.openStream(ctx, "camera", path)
}

// Cameras lists the configured camera device ids.
func (s *IVFSource) Cameras() []string {
	ids := make([]string, 0, len(s.cfg.Cameras))
	for id := range s.cfg.Cameras {
		ids = append(ids, id)
	}
	return ids
}

func (s *IVFSource) openStream(ctx context.Context, label, path string) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s feed %s: %w", label, path, domain.ErrSourceNotFound)
		}
		return nil, fmt.Errorf("open %s feed: %w", label, err)
	}

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s feed header: %w", label, err)
	}

	mimeType, err := mimeTypeFor(header.FourCC)
	if err != nil {
		f.Close()
		return nil, err
	}

	streamID := label + "-" + uuid.NewString()
	track, err := NewLocalTrack(ports.TrackKindVideo, mimeType, streamID+"-video", streamID)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create %s track: %w", label, err)
	}

	go s.pump(f, reader, track, s.frameDuration(header))

	s.logger.Infow("Capture stream opened",
		logger.Coded("capture_stream_opened", nil,
			"stream_id", streamID,
			"path", path,
			"codec", mimeType,
			"width", header.Width,
			"height", header.Height)...)
	return NewLocalStream(streamID, track), nil
}

func (s *IVFSource) pump(f io.Closer, reader *ivfreader.IVFReader, track *LocalTrack, frame time.Duration) {
	defer f.Close()

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-track.Done():
			return
		case <-ticker.C:
		}

		data, _, err := reader.ParseNextFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warnw("Capture feed read failed",
					logger.Coded("capture_read_failed", err, "track_id", track.ID())...)
			}
			track.End()
			return
		}

		if err := track.WriteSample(pionmedia.Sample{Data: data, Duration: frame}); err != nil && !errors.Is(err, ErrTrackEnded) {
			s.logger.Warnw("Capture sample write failed",
				logger.Coded("capture_write_failed", err, "track_id", track.ID())...)
		}
	}
}

func (s *IVFSource) frameDuration(header *ivfreader.IVFFileHeader) time.Duration {
	if header.TimebaseDenominator == 0 || header.TimebaseNumerator == 0 {
		return time.Second / time.Duration(s.cfg.FrameRate)
	}
	return time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
}

func mimeTypeFor(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("unsupported capture codec %q", fourCC)
	}
}

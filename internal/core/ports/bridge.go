package ports

import (
	"context"

	"sharecast/internal/core/domain"
)

// StatsProvider exposes transport stats for one peer connection.
type StatsProvider interface {
	GetStats(ctx context.Context) (domain.StatsReport, error)
}

// MediaBridge publishes and subscribes share streams against the media server.
type MediaBridge interface {
	// Share publishes the stream. onFail receives failures that happen after
	// Share has returned, e.g. the server dropping the session.
	Share(ctx context.Context, stream MediaStream, onFail func(error), contentType domain.ContentType) error
	View(ctx context.Context, opts domain.ViewOptions) error
	Stop()
	// PeerConnection returns the active peer, if any.
	PeerConnection() (StatsProvider, bool)
	SetVolume(volume float64)
	Volume() float64
	SetOutputDeviceID(deviceID string) error
	// LocalStream is the stream being published, used for local preview.
	LocalStream() MediaStream
}

// BitrateCalculator turns two stats samples into bits per second per kind.
type BitrateCalculator interface {
	BitsPerSecond(current, previous domain.StatsSample) (map[domain.StatKind]float64, error)
}

// BroadcastFeed carries the meeting-wide broadcast state.
type BroadcastFeed interface {
	Current(ctx context.Context) (*domain.Broadcast, error)
	Publish(ctx context.Context, b *domain.Broadcast) error
	// Clear removes the broadcast only while publisher still owns it.
	Clear(ctx context.Context, publisher string) error
	// Subscribe blocks, calling handler with every change (nil = cleared),
	// until ctx is done.
	Subscribe(ctx context.Context, handler func(*domain.Broadcast)) error
	Close() error
}

package ports

import (
	"time"

	"sharecast/internal/core/domain"
)

// ShareObserver receives share lifecycle events, typically for metrics.
type ShareObserver interface {
	ShareStarted(contentType domain.ContentType)
	ShareFailed(contentType domain.ContentType, err error)
	ShareEnded(contentType domain.ContentType, duration time.Duration)
	ViewFailed()
}

// LivenessObserver receives the outcome of every liveness evaluation.
type LivenessObserver interface {
	BitrateObserved(kind domain.StatKind, bitsPerSecond float64)
	MediaStalled()
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ShareStarted(domain.ContentType) {}
func (NopObserver) ShareFailed(domain.ContentType, error) {}
func (NopObserver) ShareEnded(domain.ContentType, time.Duration) {}
func (NopObserver) ViewFailed() {}
func (NopObserver) BitrateObserved(domain.StatKind, float64) {}
func (NopObserver) MediaStalled() {}

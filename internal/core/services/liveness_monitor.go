package services

import (
	"context"
	"sync"
	"time"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
	"sharecast/pkg/logger"

	"go.uber.org/zap"
)

// LivenessStatus is the outcome of the most recent liveness check.
type LivenessStatus struct {
	HasPeer         bool                        `json:"has_peer"`
	Flowing         bool                        `json:"flowing"`
	Stalled         bool                        `json:"stalled"`
	ConsecutiveIdle int                         `json:"consecutive_idle"`
	BitsPerSecond   map[domain.StatKind]float64 `json:"bits_per_second,omitempty"`
	LastCheckedAt   time.Time                   `json:"last_checked_at"`
}

// LivenessMonitor polls share stats on a fixed interval and tracks whether
// media is flowing. A stall is reported once the number of consecutive
// non-flowing checks reaches the threshold.
type LivenessMonitor struct {
	stats      ports.StatsService
	calculator ports.BitrateCalculator
	observer   ports.LivenessObserver
	logger     *zap.SugaredLogger

	interval  time.Duration
	threshold int

	mu       sync.RWMutex
	previous domain.StatsSample
	status   LivenessStatus
	now      func() time.Time
}

func NewLivenessMonitor(
	stats ports.StatsService,
	calculator ports.BitrateCalculator,
	observer ports.LivenessObserver,
	interval time.Duration,
	threshold int,
	logger *zap.SugaredLogger,
) *LivenessMonitor {
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if threshold <= 0 {
		threshold = 1
	}
	return &LivenessMonitor{
		stats:      stats,
		calculator: calculator,
		observer:   observer,
		logger:     logger,
		interval:   interval,
		threshold:  threshold,
		now:        time.Now,
	}
}

// Run checks liveness every interval until ctx is done.
func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *LivenessMonitor) Status() LivenessStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.status
	if st.BitsPerSecond != nil {
		st.BitsPerSecond = make(map[domain.StatKind]float64, len(m.status.BitsPerSecond))
		for k, v := range m.status.BitsPerSecond {
			st.BitsPerSecond[k] = v
		}
	}
	return st
}

func (m *LivenessMonitor) check(ctx context.Context) {
	current, err := m.stats.GetStats(ctx)
	if err != nil {
		m.logger.Warnw("Failed to read screenshare stats",
			logger.Coded("screenshare_stats_failed", err)...)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.LastCheckedAt = m.now()
	if current == nil {
		m.previous = nil
		m.status = LivenessStatus{LastCheckedAt: m.status.LastCheckedAt}
		return
	}
	m.status.HasPeer = true

	previous := m.previous
	m.previous = current
	if previous == nil {
		return
	}

	flowing, err := m.stats.IsMediaFlowing(previous, current)
	if err != nil {
		m.logger.Warnw("Failed to evaluate media flow",
			logger.Coded("screenshare_liveness_failed", err)...)
		return
	}
	if bps, err := m.calculator.BitsPerSecond(current, previous); err == nil {
		m.status.BitsPerSecond = bps
		for kind, v := range bps {
			m.observer.BitrateObserved(kind, v)
		}
	}

	m.status.Flowing = flowing
	if flowing {
		if m.status.Stalled {
			m.logger.Infow("Screenshare media resumed",
				logger.Coded("screenshare_media_resumed", nil)...)
		}
		m.status.ConsecutiveIdle = 0
		m.status.Stalled = false
		return
	}

	m.status.ConsecutiveIdle++
	if m.status.ConsecutiveIdle == m.threshold {
		m.status.Stalled = true
		m.observer.MediaStalled()
		m.logger.Warnw("Screenshare media stalled",
			logger.Coded("screenshare_media_stalled", nil, "idle_checks", m.status.ConsecutiveIdle)...)
	}
}

package services

import (
	"context"
	"fmt"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
	"sharecast/pkg/tracing"

	"go.uber.org/zap"
)

// StatsService reads transport stats of the active share peer and derives
// media liveness from successive samples. It keeps no history.
type StatsService struct {
	bridge       ports.MediaBridge
	calculator   ports.BitrateCalculator
	defaultKinds []domain.StatKind
	logger       *zap.SugaredLogger
}

var _ ports.StatsService = (*StatsService)(nil)

func NewStatsService(bridge ports.MediaBridge, calculator ports.BitrateCalculator, defaultKinds []domain.StatKind, logger *zap.SugaredLogger) *StatsService {
	if len(defaultKinds) == 0 {
		defaultKinds = domain.DefaultStatKinds
	}
	return &StatsService{
		bridge:       bridge,
		calculator:   calculator,
		defaultKinds: defaultKinds,
		logger:       logger,
	}
}

// GetStats returns the requested kinds of the active peer's stats report,
// or nil without error when there is no peer.
func (s *StatsService) GetStats(ctx context.Context, kinds ...domain.StatKind) (domain.StatsSample, error) {
	if len(kinds) == 0 {
		kinds = s.defaultKinds
	}

	peer, ok := s.bridge.PeerConnection()
	if !ok {
		return nil, nil
	}

	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	ctx, span := tracing.TraceStats(ctx, names)
	defer span.End()

	report, err := peer.GetStats(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("get peer stats: %w", err)
	}
	return report.Filter(kinds), nil
}

// IsMediaFlowing reports whether the summed bitrate between the two samples
// is positive. Calculator errors are returned as is.
func (s *StatsService) IsMediaFlowing(previous, current domain.StatsSample) (bool, error) {
	bps, err := s.calculator.BitsPerSecond(current, previous)
	if err != nil {
		return false, err
	}

	var total float64
	for _, v := range bps {
		total += v
	}
	return total > 0, nil
}

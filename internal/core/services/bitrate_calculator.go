package services

import (
	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
)

// TransportBitrateCalculator derives bits per second per stat kind from the
// byte counters of two samples.
type TransportBitrateCalculator struct{}

var _ ports.BitrateCalculator = TransportBitrateCalculator{}

// BitsPerSecond computes the rate for every kind in current. Kinds missing
// from previous, non-increasing timestamps and counter resets yield 0.
func (TransportBitrateCalculator) BitsPerSecond(current, previous domain.StatsSample) (map[domain.StatKind]float64, error) {
	if current == nil || previous == nil {
		return nil, domain.ErrMalformedSample
	}

	rates := make(map[domain.StatKind]float64, len(current))
	for kind, cur := range current {
		if cur.Timestamp.IsZero() {
			return nil, domain.ErrMalformedSample
		}
		prev, ok := previous[kind]
		if !ok {
			rates[kind] = 0
			continue
		}
		if prev.Timestamp.IsZero() {
			return nil, domain.ErrMalformedSample
		}

		elapsed := cur.Timestamp.Sub(prev.Timestamp).Seconds()
		curBytes, prevBytes := cur.Bytes(), prev.Bytes()
		if elapsed <= 0 || curBytes <= prevBytes {
			rates[kind] = 0
			continue
		}
		rates[kind] = float64(curBytes-prevBytes) * 8 / elapsed
	}
	return rates, nil
}

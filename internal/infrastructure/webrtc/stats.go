package webrtc

import (
	"context"

	"sharecast/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type statsPeer struct {
	pc *webrtc.PeerConnection
}

func (p statsPeer) GetStats(ctx context.Context) (domain.StatsReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ConvertStats(p.pc.GetStats()), nil
}

// ConvertStats reduces a pion stats report to the records the client uses.
// Unknown stat types are skipped.
func ConvertStats(report webrtc.StatsReport) domain.StatsReport {
	out := make(domain.StatsReport, 0, len(report))
	for _, stat := range report {
		switch s := stat.(type) {
		case webrtc.OutboundRTPStreamStats:
			out = append(out, domain.StatRecord{
				ID:          s.ID,
				Type:        domain.StatKindOutboundRTP,
				Timestamp:   s.Timestamp.Time(),
				BytesSent:   s.BytesSent,
				PacketsSent: s.PacketsSent,
				NACKCount:   s.NACKCount,
				PLICount:    s.PLICount,
			})
		case webrtc.InboundRTPStreamStats:
			out = append(out, domain.StatRecord{
				ID:              s.ID,
				Type:            domain.StatKindInboundRTP,
				Timestamp:       s.Timestamp.Time(),
				BytesReceived:   s.BytesReceived,
				PacketsReceived: s.PacketsReceived,
				PacketsLost:     s.PacketsLost,
				Jitter:          s.Jitter,
				NACKCount:       s.NACKCount,
				PLICount:        s.PLICount,
			})
		case webrtc.RemoteInboundRTPStreamStats:
			out = append(out, domain.StatRecord{
				ID:              s.ID,
				Type:            domain.StatKindRemoteInboundRTP,
				Timestamp:       s.Timestamp.Time(),
				PacketsReceived: s.PacketsReceived,
				PacketsLost:     s.PacketsLost,
				Jitter:          s.Jitter,
			})
		case webrtc.TransportStats:
			out = append(out, domain.StatRecord{
				ID:              s.ID,
				Type:            domain.StatKindTransport,
				Timestamp:       s.Timestamp.Time(),
				BytesSent:       s.BytesSent,
				BytesReceived:   s.BytesReceived,
				PacketsSent:     s.PacketsSent,
				PacketsReceived: s.PacketsReceived,
			})
		case webrtc.ICECandidatePairStats:
			out = append(out, domain.StatRecord{
				ID:              s.ID,
				Type:            domain.StatKindCandidatePair,
				Timestamp:       s.Timestamp.Time(),
				BytesSent:       s.BytesSent,
				BytesReceived:   s.BytesReceived,
				PacketsSent:     s.PacketsSent,
				PacketsReceived: s.PacketsReceived,
			})
		}
	}
	return out
}

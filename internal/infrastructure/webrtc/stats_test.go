package webrtc

import (
	"testing"
	"time"

	"sharecast/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertStats(t *testing.T) {
	ts := webrtc.StatsTimestamp(1_700_000_000_000)
	report := webrtc.StatsReport{
		"out": webrtc.OutboundRTPStreamStats{
			ID: "out", Type: webrtc.StatsTypeOutboundRTP, Timestamp: ts,
			BytesSent: 4000, PacketsSent: 10, NACKCount: 1, PLICount: 2,
		},
		"in": webrtc.InboundRTPStreamStats{
			ID: "in", Type: webrtc.StatsTypeInboundRTP, Timestamp: ts,
			BytesReceived: 900, PacketsReceived: 3, PacketsLost: 1, Jitter: 0.02,
		},
		"codec": webrtc.CodecStats{ID: "codec", Type: webrtc.StatsTypeCodec, Timestamp: ts},
	}

	records := ConvertStats(report)
	require.Len(t, records, 2)

	sample := records.Filter(domain.DefaultStatKinds)
	out := sample[domain.StatKindOutboundRTP]
	assert.Equal(t, "out", out.ID)
	assert.Equal(t, uint64(4000), out.Bytes())
	assert.Equal(t, uint32(2), out.PLICount)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000).UTC(), out.Timestamp.UTC())

	in := sample[domain.StatKindInboundRTP]
	assert.Equal(t, uint64(900), in.Bytes())
	assert.Equal(t, int32(1), in.PacketsLost)
	assert.InDelta(t, 0.02, in.Jitter, 1e-9)
}

func TestConvertStats_Empty(t *testing.T) {
	assert.Empty(t, ConvertStats(webrtc.StatsReport{}))
}

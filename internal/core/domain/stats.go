package domain

import "time"

// StatKind is a WebRTC stats type, e.g. "outbound-rtp".
type StatKind string

const (
	StatKindOutboundRTP       StatKind = "outbound-rtp"
	StatKindInboundRTP        StatKind = "inbound-rtp"
	StatKindRemoteInboundRTP  StatKind = "remote-inbound-rtp"
	StatKindRemoteOutboundRTP StatKind = "remote-outbound-rtp"
	StatKindTransport         StatKind = "transport"
	StatKindCandidatePair     StatKind = "candidate-pair"
)

// DefaultStatKinds is the allow-list used when callers do not pass one.
var DefaultStatKinds = []StatKind{StatKindOutboundRTP, StatKindInboundRTP}

// StatRecord is one transport stats record, reduced to the counters the
// client cares about.
type StatRecord struct {
	ID              string    `json:"id"`
	Type            StatKind  `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	BytesSent       uint64    `json:"bytes_sent,omitempty"`
	BytesReceived   uint64    `json:"bytes_received,omitempty"`
	PacketsSent     uint32    `json:"packets_sent,omitempty"`
	PacketsReceived uint32    `json:"packets_received,omitempty"`
	PacketsLost     int32     `json:"packets_lost,omitempty"`
	Jitter          float64   `json:"jitter,omitempty"`
	NACKCount       uint32    `json:"nack_count,omitempty"`
	PLICount        uint32    `json:"pli_count,omitempty"`
}

// Bytes returns the byte counter that matters for the record's direction.
func (r StatRecord) Bytes() uint64 {
	switch r.Type {
	case StatKindOutboundRTP, StatKindRemoteInboundRTP:
		return r.BytesSent
	case StatKindInboundRTP, StatKindRemoteOutboundRTP:
		return r.BytesReceived
	default:
		return r.BytesSent + r.BytesReceived
	}
}

// Merge folds another record of the same kind into r, summing counters and
// keeping the newest timestamp.
func (r StatRecord) Merge(other StatRecord) StatRecord {
	r.BytesSent += other.BytesSent
	r.BytesReceived += other.BytesReceived
	r.PacketsSent += other.PacketsSent
	r.PacketsReceived += other.PacketsReceived
	r.PacketsLost += other.PacketsLost
	r.NACKCount += other.NACKCount
	r.PLICount += other.PLICount
	if other.Jitter > r.Jitter {
		r.Jitter = other.Jitter
	}
	if other.Timestamp.After(r.Timestamp) {
		r.Timestamp = other.Timestamp
	}
	return r
}

// StatsReport is the unfiltered list of records read from a peer connection.
type StatsReport []StatRecord

// StatsSample is one filtered snapshot keyed by stat kind. Samples are
// treated as immutable once returned.
type StatsSample map[StatKind]StatRecord

// Filter keeps only the requested kinds, merging duplicates of one kind.
func (r StatsReport) Filter(kinds []StatKind) StatsSample {
	allowed := make(map[StatKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}

	sample := make(StatsSample)
	for _, rec := range r {
		if _, ok := allowed[rec.Type]; !ok {
			continue
		}
		if prev, exists := sample[rec.Type]; exists {
			sample[rec.Type] = prev.Merge(rec)
			continue
		}
		sample[rec.Type] = rec
	}
	return sample
}

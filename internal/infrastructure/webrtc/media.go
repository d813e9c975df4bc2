package webrtc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sharecast/pkg/logger"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
)

// readRTCP drains the sender's RTCP so interceptors keep working, logging
// keyframe requests and loss reports from the media server.
func (b *Bridge) readRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}

		for _, packet := range packets {
			switch p := packet.(type) {
			case *rtcp.PictureLossIndication:
				b.logger.Debugw("received PLI", "media_ssrc", p.MediaSSRC)
				b.countFeedback("pli")
			case *rtcp.TransportLayerNack:
				b.logger.Debugw("received NACK", "media_ssrc", p.MediaSSRC, "nacks", len(p.Nacks))
				b.countFeedback("nack")
			case *rtcp.ReceiverReport:
				b.countFeedback("receiver_report")
				for _, report := range p.Reports {
					b.logger.Debugw("received receiver report",
						"ssrc", report.SSRC,
						"fraction_lost", report.FractionLost,
						"total_lost", report.TotalLost,
						"jitter", report.Jitter,
					)
				}
			}
		}
	}
}

func (b *Bridge) countFeedback(packetType string) {
	if b.cfg.Feedback != nil {
		b.cfg.Feedback.RTCPReceived(packetType)
	}
}

type rtpSink interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// consume reads a viewed track until it ends, recording VP8 video when a
// record directory is configured.
func (b *Bridge) consume(track *webrtc.TrackRemote) {
	b.logger.Infow("Screenshare track received",
		logger.Coded("bridge_view_track", nil,
			"track_id", track.ID(),
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType)...)

	sink := b.recorder(track)
	if sink != nil {
		defer sink.Close()
	}

	packetBuffer := make([]byte, 1500) // MTU size
	rtpPacket := &rtp.Packet{}
	var packets uint64
	for {
		n, _, err := track.Read(packetBuffer)
		if err != nil {
			b.logger.Debugw("viewed track ended", "track_id", track.ID(), "packets", packets, "error", err)
			return
		}
		packets++
		if sink == nil {
			continue
		}

		if err := rtpPacket.Unmarshal(packetBuffer[:n]); err != nil {
			b.logger.Warnw("error unmarshaling RTP packet", "track_id", track.ID(), "error", err)
			continue
		}
		if err := sink.WriteRTP(rtpPacket); err != nil {
			b.logger.Warnw("error recording RTP packet", "track_id", track.ID(), "error", err)
		}
	}
}

func (b *Bridge) recorder(track *webrtc.TrackRemote) rtpSink {
	if b.cfg.RecordDir == "" || track.Kind() != webrtc.RTPCodecTypeVideo {
		return nil
	}
	if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeVP8) {
		return nil
	}
	if err := os.MkdirAll(b.cfg.RecordDir, 0o755); err != nil {
		b.logger.Warnw("Cannot create record directory",
			logger.Coded("bridge_record_failed", err, "dir", b.cfg.RecordDir)...)
		return nil
	}

	path := filepath.Join(b.cfg.RecordDir, fmt.Sprintf("%s-%d.ivf", sanitize(track.StreamID()), time.Now().Unix()))
	writer, err := ivfwriter.New(path)
	if err != nil {
		b.logger.Warnw("Cannot open recording",
			logger.Coded("bridge_record_failed", err, "path", path)...)
		return nil
	}
	return writer
}

func sanitize(id string) string {
	if id == "" {
		return "share"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, id)
}
